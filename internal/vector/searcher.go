// Package vector provides nearest-neighbor retrieval of candidate threads.
package vector

import (
	"context"

	"github.com/thebtf/threadline/pkg/models"
)

// Query describes one candidate-retrieval request. Retrieval is always
// partitioned: threads from other categories or locales are never candidates.
type Query struct {
	Partition       models.Partition
	Embedding       []float32
	TopK            int
	CosineThreshold float64
}

// Candidate is a thread paired with its cosine similarity to the query.
type Candidate struct {
	Thread *models.Thread
	Cosine float64
}

// Searcher returns the top-K nearest threads for a query embedding, ordered
// by cosine similarity descending. An empty thread population yields an
// empty slice, not an error. Implementations must be swappable: the Postgres
// searcher uses the pgvector ANN index, the linear searcher an exact scan.
type Searcher interface {
	TopK(ctx context.Context, q Query) ([]Candidate, error)
}
