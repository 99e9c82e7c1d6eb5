// Package llm wraps the external embedding and semantic-judgment capability.
// Every call can fail transiently; callers own retry policy.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/thebtf/threadline/pkg/models"
)

// Sentinel errors forming the adapter's failure taxonomy.
var (
	// ErrUnavailable marks a transient service failure; the call may be
	// retried with backoff.
	ErrUnavailable = errors.New("llm service unavailable")

	// ErrMalformed marks an unparseable response or an out-of-bounds score.
	// Retrying the same input may still help (sampling), but the result of
	// this call must not be persisted.
	ErrMalformed = errors.New("llm response malformed")
)

// BlockedError reports that the provider's content filter refused the input.
// Blocked results are recorded on the stored rows, not retried.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("llm content blocked: %s", e.Reason)
}

// IsBlocked reports whether err is a content-filter block.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// Verdict is the judge's answer for one (article, thread) pair.
type Verdict struct {
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

// ThreadRevision is the regenerated thread content produced when an article
// attaches. Resolved signals that the new article likely concludes the story.
type ThreadRevision struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Resolved bool   `json:"resolved"`
}

// Client is the capability boundary to the embedding/judgment service.
type Client interface {
	// Embed returns a D-dimensional embedding for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Summarize produces the semantic summary stored with a new article.
	Summarize(ctx context.Context, article *models.IncomingArticle) (string, error)

	// Judge scores how strongly the article belongs to the candidate thread,
	// in [0, 100], with a human-readable justification.
	Judge(ctx context.Context, article *models.Article, thread *models.Thread) (*Verdict, error)

	// ReviseThread regenerates a thread's title and summary after an
	// attachment and reports whether the story now looks concluded.
	ReviseThread(ctx context.Context, article *models.Article, thread *models.Thread) (*ThreadRevision, error)
}
