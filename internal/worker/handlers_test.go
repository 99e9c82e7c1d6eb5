package worker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
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

// stubLLM answers every call successfully with fixed content.
type stubLLM struct{}

func (stubLLM) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubLLM) Summarize(_ context.Context, a *models.IncomingArticle) (string, error) {
	return "summary of " + a.Title, nil
}

func (stubLLM) Judge(context.Context, *models.Article, *models.Thread) (*llm.Verdict, error) {
	return &llm.Verdict{Score: 90, Justification: "same story"}, nil
}

func (stubLLM) ReviseThread(_ context.Context, _ *models.Article, th *models.Thread) (*llm.ThreadRevision, error) {
	return &llm.ThreadRevision{Title: th.Title, Summary: "updated"}, nil
}

func testService(t *testing.T) (*Service, *db.Store) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") +
		"?_foreign_keys=ON&_busy_timeout=5000&_txlock=immediate"
	store, err := db.Open(sqlite.Open(dsn), db.Config{MaxConns: 4, LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.LLM.EmbeddingDim = 3

	threads := db.NewThreadStore(store)
	eng := engine.New(store, db.NewArticleStore(store), vector.NewLinearSearcher(threads), stubLLM{}, cfg)

	svc := New("test", cfg.Server, store, eng)
	svc.ready.Store(true)
	return svc, store
}

func ingestArticle(t *testing.T, svc *Service, url, title string) string {
	t.Helper()

	body, err := json.Marshal(&models.IncomingArticle{
		URL: url, Category: "politics", Country: "us", Language: "en",
		Title: title, Content: "content", PublishedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/articles", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["thread_id"].(string)
}

func TestHandleHealth(t *testing.T) {
	svc, _ := testService(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
	assert.EqualValues(t, 0, resp["articles"])
}

func TestHandleHealth_CountsArticles(t *testing.T) {
	svc, _ := testService(t)
	ingestArticle(t, svc, "https://news.example/h1", "Story")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["articles"])
}

func TestHandleIngestArticle(t *testing.T) {
	svc, store := testService(t)

	threadID := ingestArticle(t, svc, "https://news.example/1", "Breaking story")
	assert.NotEmpty(t, threadID)

	count, err := db.NewArticleStore(store).Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestHandleIngestArticle_Duplicate(t *testing.T) {
	svc, _ := testService(t)

	ingestArticle(t, svc, "https://news.example/dup", "Story")

	body, _ := json.Marshal(&models.IncomingArticle{
		URL: "https://news.example/dup", Category: "politics", Country: "us",
		Language: "en", Title: "Story",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/articles", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["duplicate"])
}

func TestHandleIngestArticle_BadPayload(t *testing.T) {
	svc, _ := testService(t)

	req := httptest.NewRequest(http.MethodPost, "/api/articles", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/articles", bytes.NewReader([]byte(`{"title":"no url"}`)))
	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListThreads(t *testing.T) {
	svc, _ := testService(t)

	ingestArticle(t, svc, "https://news.example/1", "Story one")

	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Threads []models.Thread `json:"threads"`
		Total   int64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Total)
	require.Len(t, resp.Threads, 1)
	assert.Equal(t, models.StatusStarted, resp.Threads[0].Status)
}

func TestHandleListThreads_InvalidStatus(t *testing.T) {
	svc, _ := testService(t)

	req := httptest.NewRequest(http.MethodGet, "/api/threads?status=archived", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetThread(t *testing.T) {
	svc, _ := testService(t)

	id := ingestArticle(t, svc, "https://news.example/1", "Story")

	req := httptest.NewRequest(http.MethodGet, "/api/threads/"+id, nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var thread models.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	assert.Equal(t, id, thread.ID)

	req = httptest.NewRequest(http.MethodGet, "/api/threads/00000000-0000-0000-0000-000000000000", nil)
	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleThreadArticles(t *testing.T) {
	svc, _ := testService(t)

	id := ingestArticle(t, svc, "https://news.example/1", "Story")
	second := ingestArticle(t, svc, "https://news.example/2", "Story update")
	require.Equal(t, id, second)

	req := httptest.NewRequest(http.MethodGet, "/api/threads/"+id+"/articles", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Articles []models.LinkedArticle `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Articles, 2)
	assert.Equal(t, models.SeedScore, resp.Articles[0].Score)
	assert.Equal(t, 90, resp.Articles[1].Score)
}

func TestHandleDeleteThread(t *testing.T) {
	svc, store := testService(t)

	id := ingestArticle(t, svc, "https://news.example/1", "Story")

	req := httptest.NewRequest(http.MethodDelete, "/api/threads/"+id, nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	thread, err := db.NewThreadStore(store).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, thread)

	// Deleting again 404s.
	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/threads/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSearchThreads(t *testing.T) {
	svc, _ := testService(t)

	ingestArticle(t, svc, "https://news.example/1", "Budget negotiations stall")

	req := httptest.NewRequest(http.MethodGet, "/api/threads/search?q=budget", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Threads []models.Thread `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Threads, 1)

	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads/search", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
