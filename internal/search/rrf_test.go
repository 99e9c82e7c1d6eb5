package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRF_EmptyInput(t *testing.T) {
	assert.Empty(t, RRF())
	assert.Empty(t, RRF([]string{}, []string{}))
}

func TestRRF_SingleList(t *testing.T) {
	result := RRF([]string{"a", "b", "c"})
	require.Len(t, result, 3)
	assert.Equal(t, "a", result[0].ID)
	assert.Equal(t, "b", result[1].ID)
	assert.Equal(t, "c", result[2].ID)
	assert.Greater(t, result[0].Score, result[1].Score)
}

func TestRRF_DuplicateAccumulates(t *testing.T) {
	// An ID present in both lists must outrank IDs present in only one.
	result := RRF([]string{"a", "both"}, []string{"both", "b"})
	require.NotEmpty(t, result)
	assert.Equal(t, "both", result[0].ID)
}

func TestRRF_FirstListWeighted(t *testing.T) {
	// Equal ranks: the title list (first) carries double weight.
	result := RRF([]string{"title-hit"}, []string{"summary-hit"})
	require.Len(t, result, 2)
	assert.Equal(t, "title-hit", result[0].ID)
}
