package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/threadline/internal/config"
	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/internal/llm"
	"github.com/thebtf/threadline/internal/vector"
	"github.com/thebtf/threadline/pkg/models"
)

// fakeLLM scripts the collaborator responses per test.
type fakeLLM struct {
	embed     func(text string) ([]float32, error)
	summarize func(a *models.IncomingArticle) (string, error)
	judge     func(a *models.Article, th *models.Thread) (*llm.Verdict, error)
	revise    func(a *models.Article, th *models.Thread) (*llm.ThreadRevision, error)
}

func (f *fakeLLM) Embed(_ context.Context, text string) ([]float32, error) {
	if f.embed != nil {
		return f.embed(text)
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeLLM) Summarize(_ context.Context, a *models.IncomingArticle) (string, error) {
	if f.summarize != nil {
		return f.summarize(a)
	}
	return "summary of " + a.Title, nil
}

func (f *fakeLLM) Judge(_ context.Context, a *models.Article, th *models.Thread) (*llm.Verdict, error) {
	if f.judge != nil {
		return f.judge(a, th)
	}
	return &llm.Verdict{Score: 90, Justification: "same story"}, nil
}

func (f *fakeLLM) ReviseThread(_ context.Context, a *models.Article, th *models.Thread) (*llm.ThreadRevision, error) {
	if f.revise != nil {
		return f.revise(a, th)
	}
	return &llm.ThreadRevision{Title: th.Title, Summary: "updated summary"}, nil
}

func testEngine(t *testing.T, client llm.Client) (*Engine, *db.Store) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") +
		"?_foreign_keys=ON&_busy_timeout=5000&_txlock=immediate"
	store, err := db.Open(sqlite.Open(dsn), db.Config{MaxConns: 4, LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.LLM.EmbeddingDim = 3

	threads := db.NewThreadStore(store)
	eng := New(store, db.NewArticleStore(store), vector.NewLinearSearcher(threads), client, cfg)
	return eng, store
}

func incoming(url, title string) *models.IncomingArticle {
	return &models.IncomingArticle{
		URL:         url,
		Category:    "politics",
		Country:     "us",
		Language:    "en",
		Title:       title,
		Description: "description",
		Content:     "content",
		PublishedAt: time.Now().UTC().Add(-time.Hour),
	}
}

func TestAssign_CreatesFirstThread(t *testing.T) {
	eng, store := testEngine(t, &fakeLLM{})
	ctx := context.Background()

	outcome, err := eng.Assign(ctx, incoming("https://news.example/1", "Senate passes bill"))
	require.NoError(t, err)

	assert.True(t, outcome.Created)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.StatusStarted, outcome.Status)

	thread, err := db.NewThreadStore(store).Get(ctx, outcome.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Senate passes bill", thread.Title)
	assert.Equal(t, "summary of Senate passes bill", thread.Summary)
}

func TestAssign_AttachesWhenJudgeAccepts(t *testing.T) {
	client := &fakeLLM{
		revise: func(_ *models.Article, _ *models.Thread) (*llm.ThreadRevision, error) {
			return &llm.ThreadRevision{Title: "Bill saga continues", Summary: "merged view"}, nil
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	first, err := eng.Assign(ctx, incoming("https://news.example/1", "Senate passes bill"))
	require.NoError(t, err)

	second, err := eng.Assign(ctx, incoming("https://news.example/2", "House reacts to bill"))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, models.StatusEvolving, second.Status)
	assert.Equal(t, 90, second.Score)

	thread, err := db.NewThreadStore(store).Get(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Bill saga continues", thread.Title)
	assert.Equal(t, "merged view", thread.Summary)

	articles, err := db.NewThreadStore(store).ListArticles(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, articles, 2)
}

func TestAssign_JudgeRejectionCreatesNewThread(t *testing.T) {
	client := &fakeLLM{
		judge: func(_ *models.Article, _ *models.Thread) (*llm.Verdict, error) {
			return &llm.Verdict{Score: 15, Justification: "different story"}, nil
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	first, err := eng.Assign(ctx, incoming("https://news.example/1", "Election results"))
	require.NoError(t, err)
	second, err := eng.Assign(ctx, incoming("https://news.example/2", "Stadium opening"))
	require.NoError(t, err)

	assert.True(t, second.Created)
	assert.NotEqual(t, first.ThreadID, second.ThreadID)

	_, total, err := db.NewThreadStore(store).List(ctx, db.ListParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	// The rejected thread keeps exactly its seed article; the commit-time
	// recheck must not override the judge.
	articles, err := db.NewThreadStore(store).ListArticles(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestAssign_DuplicateURL(t *testing.T) {
	eng, store := testEngine(t, &fakeLLM{})
	ctx := context.Background()

	_, err := eng.Assign(ctx, incoming("https://news.example/dup", "Story"))
	require.NoError(t, err)

	again, err := eng.Assign(ctx, incoming("https://news.example/dup", "Story republished"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	count, err := db.NewArticleStore(store).Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestAssign_BlockedSummaryStoresBlockedThread(t *testing.T) {
	client := &fakeLLM{
		summarize: func(_ *models.IncomingArticle) (string, error) {
			return "", &llm.BlockedError{Reason: "content filter"}
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	outcome, err := eng.Assign(ctx, incoming("https://news.example/blocked", "Graphic report"))
	require.NoError(t, err)
	assert.True(t, outcome.Created)

	article, err := db.NewArticleStore(store).GetByURL(ctx, "https://news.example/blocked")
	require.NoError(t, err)
	require.NotNil(t, article)
	assert.True(t, article.Blocked)
	assert.Empty(t, article.Summary)
	assert.Equal(t, []float32{0, 0, 0}, article.Embedding)

	thread, err := db.NewThreadStore(store).Get(ctx, outcome.ThreadID)
	require.NoError(t, err)
	assert.True(t, thread.Blocked)
}

func TestAssign_BlockedArticleDoesNotJoinThreads(t *testing.T) {
	blocked := false
	client := &fakeLLM{
		summarize: func(a *models.IncomingArticle) (string, error) {
			if blocked {
				return "", &llm.BlockedError{Reason: "content filter"}
			}
			return "summary", nil
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	_, err := eng.Assign(ctx, incoming("https://news.example/ok", "Story"))
	require.NoError(t, err)

	blocked = true
	outcome, err := eng.Assign(ctx, incoming("https://news.example/blocked", "Story"))
	require.NoError(t, err)
	assert.True(t, outcome.Created)

	_, total, err := db.NewThreadStore(store).List(ctx, db.ListParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestAssign_JudgeUnavailableFailClosed(t *testing.T) {
	calls := 0
	client := &fakeLLM{
		judge: func(_ *models.Article, _ *models.Thread) (*llm.Verdict, error) {
			calls++
			return nil, fmt.Errorf("judge: %w", llm.ErrUnavailable)
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	_, err := eng.Assign(ctx, incoming("https://news.example/1", "Story"))
	require.NoError(t, err)

	_, err = eng.Assign(ctx, incoming("https://news.example/2", "Story again"))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	assert.Positive(t, calls)

	// Nothing persisted: the failed pass is retryable end to end.
	exists, err := db.NewArticleStore(store).ExistsByURL(ctx, "https://news.example/2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAssign_JudgeUnavailableFailOpen(t *testing.T) {
	client := &fakeLLM{
		judge: func(_ *models.Article, _ *models.Thread) (*llm.Verdict, error) {
			return nil, fmt.Errorf("judge: %w", llm.ErrUnavailable)
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	policy := eng.Policy()
	policy.FailOpen = true
	eng.SetPolicy(policy)

	_, err := eng.Assign(ctx, incoming("https://news.example/1", "Story"))
	require.NoError(t, err)

	outcome, err := eng.Assign(ctx, incoming("https://news.example/2", "Story again"))
	require.NoError(t, err)
	assert.True(t, outcome.Created)

	_, total, err := db.NewThreadStore(store).List(ctx, db.ListParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestAssign_MalformedJudgeSkipsCandidate(t *testing.T) {
	client := &fakeLLM{
		judge: func(_ *models.Article, _ *models.Thread) (*llm.Verdict, error) {
			return nil, fmt.Errorf("judge: %w", llm.ErrMalformed)
		},
	}
	eng, _ := testEngine(t, client)
	ctx := context.Background()

	_, err := eng.Assign(ctx, incoming("https://news.example/1", "Story"))
	require.NoError(t, err)

	// Malformed verdicts are not transient: the pass falls through to
	// creation even when fail-open is off.
	outcome, err := eng.Assign(ctx, incoming("https://news.example/2", "Story again"))
	require.NoError(t, err)
	assert.True(t, outcome.Created)
}

func TestAssign_ReviseUnavailableAbortsPass(t *testing.T) {
	client := &fakeLLM{
		revise: func(_ *models.Article, _ *models.Thread) (*llm.ThreadRevision, error) {
			return nil, fmt.Errorf("revise: %w", llm.ErrUnavailable)
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	_, err := eng.Assign(ctx, incoming("https://news.example/1", "Story"))
	require.NoError(t, err)

	_, err = eng.Assign(ctx, incoming("https://news.example/2", "Story again"))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)

	exists, err := db.NewArticleStore(store).ExistsByURL(ctx, "https://news.example/2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAssign_MalformedRevisionKeepsThreadContent(t *testing.T) {
	client := &fakeLLM{
		revise: func(_ *models.Article, _ *models.Thread) (*llm.ThreadRevision, error) {
			return nil, fmt.Errorf("revise: %w", llm.ErrMalformed)
		},
	}
	eng, store := testEngine(t, client)
	ctx := context.Background()

	first, err := eng.Assign(ctx, incoming("https://news.example/1", "Original title"))
	require.NoError(t, err)

	second, err := eng.Assign(ctx, incoming("https://news.example/2", "Follow-up"))
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	thread, err := db.NewThreadStore(store).Get(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Original title", thread.Title)
	assert.Equal(t, models.StatusEvolving, thread.Status)
}

func TestAssign_SanitizesScrapedContent(t *testing.T) {
	var judged string
	client := &fakeLLM{
		summarize: func(a *models.IncomingArticle) (string, error) {
			judged = a.Content
			return "summary", nil
		},
	}
	eng, _ := testEngine(t, client)

	article := incoming("https://news.example/html", "Title")
	article.Content = "<p>clean <b>me</b></p>"
	_, err := eng.Assign(context.Background(), article)
	require.NoError(t, err)
	assert.Equal(t, "clean me", judged)
}

func TestAssign_ConcurrentNearDuplicatesConverge(t *testing.T) {
	eng, store := testEngine(t, &fakeLLM{})
	ctx := context.Background()

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Assign(ctx, incoming(
				fmt.Sprintf("https://news.example/c%d", i), "Same breaking story"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "goroutine %d", i)
	}

	// All five articles land in a single thread, via either the judged
	// attach path or the in-commit sibling recheck. Both routes advance the
	// lifecycle, so the thread is past started.
	threads, total, err := db.NewThreadStore(store).List(ctx, db.ListParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, threads, 1)
	assert.Equal(t, models.StatusEvolving, threads[0].Status)

	count, err := db.NewArticleStore(store).Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, n, count)
}

func TestAssign_EmbeddingUnavailable(t *testing.T) {
	client := &fakeLLM{
		embed: func(string) ([]float32, error) {
			return nil, fmt.Errorf("embed: %w", llm.ErrUnavailable)
		},
	}
	eng, store := testEngine(t, client)

	_, err := eng.Assign(context.Background(), incoming("https://news.example/e", "Story"))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)

	count, cErr := db.NewArticleStore(store).Count(context.Background())
	require.NoError(t, cErr)
	assert.Zero(t, count)
}

func TestSetPolicy_HotReload(t *testing.T) {
	eng, _ := testEngine(t, &fakeLLM{})

	p := eng.Policy()
	assert.Equal(t, config.DefaultAcceptScore, p.AcceptScore)

	p.AcceptScore = 95
	p.TopK = 3
	eng.SetPolicy(p)

	got := eng.Policy()
	assert.Equal(t, 95, got.AcceptScore)
	assert.Equal(t, 3, got.TopK)
}
