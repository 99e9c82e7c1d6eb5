package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"score": 80}`, `{"score": 80}`},
		{"json fence", "```json\n{\"score\": 80}\n```", `{"score": 80}`},
		{"plain fence", "```\n{\"score\": 80}\n```", `{"score": 80}`},
		{"surrounding whitespace", "  {\"score\": 80}\n", `{"score": 80}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanResponse(tt.in))
		})
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(`{"justification": "same storm system", "score": 85}`)
	require.NoError(t, err)
	assert.Equal(t, 85, v.Score)
	assert.Equal(t, "same storm system", v.Justification)
}

func TestParseVerdict_Fenced(t *testing.T) {
	v, err := parseVerdict("```json\n{\"justification\": \"related\", \"score\": 42}\n```")
	require.NoError(t, err)
	assert.Equal(t, 42, v.Score)
}

func TestParseVerdict_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "the article matches, score 85"},
		{"score too high", `{"justification": "x", "score": 101}`},
		{"score negative", `{"justification": "x", "score": -5}`},
		{"missing justification", `{"score": 50}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseVerdict(tt.raw)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseRevision(t *testing.T) {
	r, err := parseRevision(`{"title": "Storm hits coast", "summary": "A storm...", "resolved": true}`)
	require.NoError(t, err)
	assert.Equal(t, "Storm hits coast", r.Title)
	assert.True(t, r.Resolved)
}

func TestParseRevision_Malformed(t *testing.T) {
	_, err := parseRevision(`{"title": "", "summary": "x"}`)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = parseRevision(`not json`)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBlockedError(t *testing.T) {
	err := &BlockedError{Reason: "content filter"}
	assert.True(t, IsBlocked(err))
	assert.False(t, IsBlocked(ErrUnavailable))
	assert.False(t, IsBlocked(nil))
}
