package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/threadline/internal/config"
	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/internal/engine"
	"github.com/thebtf/threadline/internal/llm"
	"github.com/thebtf/threadline/internal/vector"
	"github.com/thebtf/threadline/pkg/models"
)

// flakyLLM fails the first summarize calls per URL with a transient error,
// then recovers.
type flakyLLM struct {
	failures int32
}

func (f *flakyLLM) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *flakyLLM) Summarize(_ context.Context, a *models.IncomingArticle) (string, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return "", fmt.Errorf("summarize: %w", llm.ErrUnavailable)
	}
	return "summary", nil
}

func (f *flakyLLM) Judge(context.Context, *models.Article, *models.Thread) (*llm.Verdict, error) {
	return &llm.Verdict{Score: 90, Justification: "same"}, nil
}

func (f *flakyLLM) ReviseThread(_ context.Context, _ *models.Article, th *models.Thread) (*llm.ThreadRevision, error) {
	return &llm.ThreadRevision{Title: th.Title, Summary: "updated"}, nil
}

func testRunner(t *testing.T, client llm.Client, attempts int) (*Runner, *db.Store) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") +
		"?_foreign_keys=ON&_busy_timeout=5000&_txlock=immediate"
	store, err := db.Open(sqlite.Open(dsn), db.Config{MaxConns: 4, LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.LLM.EmbeddingDim = 3

	threads := db.NewThreadStore(store)
	eng := engine.New(store, db.NewArticleStore(store), vector.NewLinearSearcher(threads), client, cfg)
	return NewRunner(eng, 2, attempts, time.Millisecond), store
}

func batch(n int) []*models.IncomingArticle {
	articles := make([]*models.IncomingArticle, n)
	for i := range articles {
		articles[i] = &models.IncomingArticle{
			URL:      fmt.Sprintf("https://news.example/%d", i),
			Category: "politics", Country: "us", Language: "en",
			Title: fmt.Sprintf("Story %d", i), Content: "content",
			PublishedAt: time.Now().UTC(),
		}
	}
	return articles
}

func TestProcessBatch(t *testing.T) {
	runner, store := testRunner(t, &flakyLLM{}, 1)

	stats, err := runner.ProcessBatch(context.Background(), batch(3))
	require.NoError(t, err)

	assert.EqualValues(t, 3, stats.Processed)
	assert.EqualValues(t, 0, stats.Failed)
	// Near-identical embeddings converge on one thread.
	assert.EqualValues(t, 1, stats.Created)
	assert.EqualValues(t, 2, stats.Attached)

	count, err := db.NewArticleStore(store).Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestProcessBatch_DuplicateURLs(t *testing.T) {
	runner, _ := testRunner(t, &flakyLLM{}, 1)
	ctx := context.Background()

	articles := batch(1)
	_, err := runner.ProcessBatch(ctx, articles)
	require.NoError(t, err)

	stats, err := runner.ProcessBatch(ctx, articles)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Duplicates)
	assert.EqualValues(t, 0, stats.Created)
}

func TestProcessBatch_RetriesTransientFailures(t *testing.T) {
	// One transient failure, two attempts: the article must still land.
	runner, store := testRunner(t, &flakyLLM{failures: 1}, 2)

	stats, err := runner.ProcessBatch(context.Background(), batch(1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 0, stats.Failed)

	count, err := db.NewArticleStore(store).Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestProcessBatch_ExhaustedRetriesCountAsFailed(t *testing.T) {
	runner, store := testRunner(t, &flakyLLM{failures: 100}, 2)

	stats, err := runner.ProcessBatch(context.Background(), batch(1))
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Processed)
	assert.EqualValues(t, 1, stats.Failed)

	count, err := db.NewArticleStore(store).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFetcherFunc(t *testing.T) {
	called := false
	f := FetcherFunc(func(context.Context) ([]*models.IncomingArticle, error) {
		called = true
		return nil, nil
	})
	_, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, called)
}
