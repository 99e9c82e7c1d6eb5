package search

import (
	"context"

	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/pkg/models"
)

// Manager answers keyword queries over threads by fusing title and summary
// matches.
type Manager struct {
	threads *db.ThreadStore
}

// NewManager creates a search manager.
func NewManager(threads *db.ThreadStore) *Manager {
	return &Manager{threads: threads}
}

// Search returns up to limit threads matching the term in their title or
// summary, best match first.
func (m *Manager) Search(ctx context.Context, term string, limit int) ([]*models.Thread, error) {
	if limit <= 0 {
		limit = 20
	}

	byTitle, err := m.threads.MatchField(ctx, "title", term, limit)
	if err != nil {
		return nil, err
	}
	bySummary, err := m.threads.MatchField(ctx, "summary", term, limit)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Thread, len(byTitle)+len(bySummary))
	titleIDs := make([]string, len(byTitle))
	for i, t := range byTitle {
		titleIDs[i] = t.ID
		byID[t.ID] = t
	}
	summaryIDs := make([]string, len(bySummary))
	for i, t := range bySummary {
		summaryIDs[i] = t.ID
		byID[t.ID] = t
	}

	fused := RRF(titleIDs, summaryIDs)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	result := make([]*models.Thread, 0, len(fused))
	for _, r := range fused {
		result = append(result, byID[r.ID])
	}
	return result, nil
}
