package vector

import (
	"context"

	"github.com/pgvector/pgvector-go"

	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/pkg/similarity"
)

// PgSearcher performs candidate retrieval with pgvector's cosine distance
// operator, hitting the halfvec HNSW index created by the migrations.
type PgSearcher struct {
	store   *db.Store
	threads *db.ThreadStore
}

// NewPgSearcher creates a Postgres-backed searcher.
func NewPgSearcher(store *db.Store, threads *db.ThreadStore) *PgSearcher {
	return &PgSearcher{store: store, threads: threads}
}

// TopK implements Searcher.
func (s *PgSearcher) TopK(ctx context.Context, q Query) ([]Candidate, error) {
	if q.TopK <= 0 || similarity.IsZero(q.Embedding) {
		return nil, nil
	}

	var rows []struct {
		ID     string
		Cosine float64
	}
	err := s.store.DB.WithContext(ctx).Raw(
		`SELECT id, 1 - (embedding::halfvec(3072) <=> ?::halfvec(3072)) AS cosine
		 FROM threads
		 WHERE category = ? AND country = ? AND language = ?
		 AND 1 - (embedding::halfvec(3072) <=> ?::halfvec(3072)) >= ?
		 ORDER BY cosine DESC, updated_at DESC
		 LIMIT ?`,
		pgvector.NewVector(q.Embedding),
		q.Partition.Category, q.Partition.Country, q.Partition.Language,
		pgvector.NewVector(q.Embedding), q.CosineThreshold,
		q.TopK,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		thread, err := s.threads.Get(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		if thread == nil {
			continue // deleted between search and load
		}
		candidates = append(candidates, Candidate{Thread: thread, Cosine: row.Cosine})
	}
	return candidates, nil
}
