package vector

import (
	"context"
	"sort"

	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/pkg/similarity"
)

// LinearSearcher is an exact nearest-neighbor scan over a partition's
// threads. It backs SQLite deployments and tests; at scale the Postgres
// searcher replaces it behind the same interface.
type LinearSearcher struct {
	threads *db.ThreadStore
}

// NewLinearSearcher creates an exact-scan searcher.
func NewLinearSearcher(threads *db.ThreadStore) *LinearSearcher {
	return &LinearSearcher{threads: threads}
}

// TopK implements Searcher.
func (s *LinearSearcher) TopK(ctx context.Context, q Query) ([]Candidate, error) {
	if q.TopK <= 0 || similarity.IsZero(q.Embedding) {
		return nil, nil
	}

	threads, err := s.threads.ListByPartition(ctx, q.Partition)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(threads))
	for _, t := range threads {
		cos, err := similarity.Cosine(q.Embedding, t.Embedding)
		if err != nil {
			// Dimension drift would poison every comparison; surface it.
			return nil, err
		}
		if cos < q.CosineThreshold {
			continue
		}
		candidates = append(candidates, Candidate{Thread: t, Cosine: cos})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Cosine != candidates[j].Cosine {
			return candidates[i].Cosine > candidates[j].Cosine
		}
		// Equal similarity: prefer the most recently updated thread.
		return candidates[i].Thread.UpdatedAt.After(candidates[j].Thread.UpdatedAt)
	})

	if len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}
	return candidates, nil
}
