// Package ingest drives batches of incoming articles through the assignment
// engine with bounded concurrency and transient-failure retries.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/threadline/internal/engine"
	"github.com/thebtf/threadline/internal/llm"
	"github.com/thebtf/threadline/pkg/models"
)

// Fetcher supplies the next batch of incoming articles, e.g. from a feed
// poller or an import file. An empty batch with a nil error means nothing to
// do right now.
type Fetcher interface {
	Fetch(ctx context.Context) ([]*models.IncomingArticle, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) ([]*models.IncomingArticle, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context) ([]*models.IncomingArticle, error) {
	return f(ctx)
}

// Stats summarizes one batch run.
type Stats struct {
	Processed  int64
	Duplicates int64
	Created    int64
	Attached   int64
	Failed     int64
}

// Runner fans a batch out over a bounded worker pool. Each article is
// independent; one article's failure never aborts the batch.
type Runner struct {
	engine *engine.Engine

	mu       sync.RWMutex
	workers  int
	attempts int
	backoff  time.Duration
}

// NewRunner creates a batch runner.
func NewRunner(eng *engine.Engine, workers, attempts int, backoff time.Duration) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &Runner{engine: eng, workers: workers, attempts: attempts, backoff: backoff}
}

// SetWorkers adjusts the pool size for subsequent batches.
func (r *Runner) SetWorkers(n int) {
	if n <= 0 {
		n = 1
	}
	r.mu.Lock()
	r.workers = n
	r.mu.Unlock()
}

func (r *Runner) settings() (workers, attempts int, backoff time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers, r.attempts, r.backoff
}

// ProcessBatch assigns every article in the batch. It returns per-batch
// stats; the error is non-nil only when the context is cancelled.
func (r *Runner) ProcessBatch(ctx context.Context, batch []*models.IncomingArticle) (*Stats, error) {
	workers, attempts, backoff := r.settings()

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, incoming := range batch {
		incoming := incoming
		g.Go(func() error {
			outcome, err := r.assignWithRetry(gctx, incoming, attempts, backoff)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				atomic.AddInt64(&stats.Failed, 1)
				log.Error().Err(err).Str("url", incoming.URL).Msg("Article assignment failed")
				return nil
			}

			atomic.AddInt64(&stats.Processed, 1)
			switch {
			case outcome.Duplicate:
				atomic.AddInt64(&stats.Duplicates, 1)
			case outcome.Created:
				atomic.AddInt64(&stats.Created, 1)
			default:
				atomic.AddInt64(&stats.Attached, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &stats, err
	}
	return &stats, nil
}

// Run fetches and processes batches until the context is cancelled, sleeping
// for interval between fetches.
func (r *Runner) Run(ctx context.Context, fetcher Fetcher, interval time.Duration) error {
	for {
		batch, err := fetcher.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Fetch failed")
		} else if len(batch) > 0 {
			stats, err := r.ProcessBatch(ctx, batch)
			if err != nil {
				return err
			}
			log.Info().
				Int("batch", len(batch)).
				Int64("processed", stats.Processed).
				Int64("duplicates", stats.Duplicates).
				Int64("created", stats.Created).
				Int64("attached", stats.Attached).
				Int64("failed", stats.Failed).
				Msg("Batch processed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// assignWithRetry retries only transient failures, with linear backoff.
// Assignment is side-effect free until its final commit, so a retried
// article cannot produce duplicate state.
func (r *Runner) assignWithRetry(ctx context.Context, incoming *models.IncomingArticle, attempts int, backoff time.Duration) (*engine.Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * backoff):
			}
			log.Debug().Str("url", incoming.URL).Int("attempt", attempt+1).Msg("Retrying article assignment")
		}

		outcome, err := r.engine.Assign(ctx, incoming)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !errors.Is(err, llm.ErrUnavailable) {
			break
		}
	}
	return nil, lastErr
}
