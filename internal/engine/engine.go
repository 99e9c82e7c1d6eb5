// Package engine implements the thread-assignment decision procedure: given
// a new article, attach it to the closest existing thread that the semantic
// judge accepts, or start a new thread.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/threadline/internal/config"
	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/internal/lifecycle"
	"github.com/thebtf/threadline/internal/llm"
	"github.com/thebtf/threadline/internal/sanitize"
	"github.com/thebtf/threadline/internal/vector"
	"github.com/thebtf/threadline/pkg/models"
)

// Policy bundles the hot-reloadable assignment knobs.
type Policy struct {
	TopK            int
	CosineThreshold float64
	AcceptScore     int
	FailOpen        bool
}

// Outcome reports what a single Assign call did.
type Outcome struct {
	Duplicate bool
	Created   bool
	ThreadID  string
	Status    models.ThreadStatus
	Score     int
	Cosine    float64
}

// Engine orchestrates candidate retrieval, judgment and the create-vs-attach
// decision. It is side-effect free until the final atomic commit, so callers
// may retry a failed Assign without duplicating state.
type Engine struct {
	store    *db.Store
	articles *db.ArticleStore
	searcher vector.Searcher
	llm      llm.Client
	dim      int

	mu     sync.RWMutex
	policy Policy

	ingested    metric.Int64Counter
	duplicates  metric.Int64Counter
	created     metric.Int64Counter
	attached    metric.Int64Counter
	judgeFailed metric.Int64Counter
}

// New creates an Engine.
func New(store *db.Store, articles *db.ArticleStore, searcher vector.Searcher, client llm.Client, cfg *config.Config) *Engine {
	meter := otel.Meter("threadline/engine")
	ingested, _ := meter.Int64Counter("threadline.articles.ingested")
	duplicates, _ := meter.Int64Counter("threadline.articles.duplicate")
	created, _ := meter.Int64Counter("threadline.threads.created")
	attached, _ := meter.Int64Counter("threadline.threads.attached")
	judgeFailed, _ := meter.Int64Counter("threadline.judge.failures")

	return &Engine{
		store:    store,
		articles: articles,
		searcher: searcher,
		llm:      client,
		dim:      cfg.LLM.EmbeddingDim,
		policy: Policy{
			TopK:            cfg.Similarity.TopK,
			CosineThreshold: cfg.Similarity.CosineThreshold,
			AcceptScore:     cfg.Similarity.AcceptScore,
			FailOpen:        cfg.Ingest.FailOpen,
		},
		ingested:    ingested,
		duplicates:  duplicates,
		created:     created,
		attached:    attached,
		judgeFailed: judgeFailed,
	}
}

// SetPolicy swaps the assignment policy, e.g. after a config reload.
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()
}

// Policy returns the current assignment policy.
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Assign runs the full decision procedure for one incoming article.
// Re-ingesting a known URL is a no-op, never an error. Transient service
// failures surface as errors wrapping llm.ErrUnavailable and are safe to
// retry.
func (e *Engine) Assign(ctx context.Context, incoming *models.IncomingArticle) (*Outcome, error) {
	policy := e.Policy()

	// Fast duplicate check; the commit re-checks under the URL constraint so
	// a concurrent ingest of the same URL still collapses to one row.
	exists, err := e.articles.ExistsByURL(ctx, incoming.URL)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		e.duplicates.Add(ctx, 1)
		return &Outcome{Duplicate: true}, nil
	}

	article, err := e.prepare(ctx, incoming)
	if err != nil {
		return nil, err
	}

	candidates, err := e.retrieve(ctx, article, policy)
	if err != nil {
		return nil, err
	}

	winner, verdict, err := e.pickWinner(ctx, article, candidates, policy)
	if err != nil {
		return nil, err
	}

	var plan *db.AssignmentPlan
	if winner == nil {
		plan = e.planCreate(article, candidates, policy)
	} else {
		plan, err = e.planAttach(ctx, article, winner, verdict)
		if err != nil {
			return nil, err
		}
	}

	result, err := e.store.CommitAssignment(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("commit assignment: %w", err)
	}

	outcome := &Outcome{
		Duplicate: result.Duplicate,
		Created:   result.Created,
		ThreadID:  result.ThreadID,
		Status:    result.Status,
	}
	if verdict != nil {
		outcome.Score = verdict.Score
	}
	if winner != nil {
		outcome.Cosine = winner.Cosine
	}

	switch {
	case result.Duplicate:
		e.duplicates.Add(ctx, 1)
	case result.Created:
		e.ingested.Add(ctx, 1)
		e.created.Add(ctx, 1)
	default:
		e.ingested.Add(ctx, 1)
		e.attached.Add(ctx, 1)
	}

	return outcome, nil
}

// prepare obtains the article's summary and embedding. A content-filter
// block stores the article with an empty summary and a zero vector rather
// than failing ingestion.
func (e *Engine) prepare(ctx context.Context, incoming *models.IncomingArticle) (*models.Article, error) {
	incoming.Title = sanitize.Clean(incoming.Title)
	incoming.Description = sanitize.Clean(incoming.Description)
	incoming.Content = sanitize.Clean(incoming.Content)

	article := &models.Article{
		URL:         incoming.URL,
		Category:    incoming.Category,
		Country:     incoming.Country,
		Language:    incoming.Language,
		Title:       incoming.Title,
		Description: incoming.Description,
		Content:     incoming.Content,
		Image:       incoming.Image,
		SourceName:  incoming.SourceName,
		SourceURL:   incoming.SourceURL,
		PublishedAt: incoming.PublishedAt,
	}

	summary, err := e.llm.Summarize(ctx, incoming)
	switch {
	case err == nil:
		article.Summary = summary
	case llm.IsBlocked(err):
		article.Blocked = true
		article.BlockedReason = err.Error()
	default:
		return nil, fmt.Errorf("summarize article: %w", err)
	}

	if article.Blocked {
		article.Embedding = make([]float32, e.dim)
		return article, nil
	}

	text := strings.TrimSpace(incoming.Title + " " + incoming.Description + " " + incoming.Content)
	embedding, err := e.llm.Embed(ctx, text)
	switch {
	case err == nil:
		article.Embedding = embedding
	case llm.IsBlocked(err):
		article.Blocked = true
		article.BlockedReason = err.Error()
		article.Embedding = make([]float32, e.dim)
	default:
		return nil, fmt.Errorf("embed article: %w", err)
	}

	return article, nil
}

// retrieve queries the top-K candidate threads in the article's partition.
// Blocked articles (zero vector) never retrieve candidates and always seed a
// new thread.
func (e *Engine) retrieve(ctx context.Context, article *models.Article, policy Policy) ([]vector.Candidate, error) {
	candidates, err := e.searcher.TopK(ctx, vector.Query{
		Partition:       article.Partition(),
		Embedding:       article.Embedding,
		TopK:            policy.TopK,
		CosineThreshold: policy.CosineThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate retrieval: %w", err)
	}
	return candidates, nil
}

// pickWinner judges candidates in descending cosine order and returns the
// first one meeting the acceptance threshold. Candidates are pre-sorted by
// cosine (then recency), so stopping at the first acceptance also implements
// the tie-break policy. A judge failure skips only that candidate; if every
// candidate failed on transient errors and the policy is not fail-open, the
// whole pass is surfaced as retryable.
func (e *Engine) pickWinner(ctx context.Context, article *models.Article, candidates []vector.Candidate, policy Policy) (*vector.Candidate, *llm.Verdict, error) {
	sawUnavailable := false
	judged := 0

	for i := range candidates {
		candidate := &candidates[i]

		verdict, err := e.llm.Judge(ctx, article, candidate.Thread)
		if err != nil {
			e.judgeFailed.Add(ctx, 1)
			if errors.Is(err, llm.ErrUnavailable) {
				sawUnavailable = true
			}
			log.Warn().Err(err).
				Str("thread", candidate.Thread.ID).
				Str("url", article.URL).
				Msg("Judge failed for candidate, skipping")
			continue
		}
		judged++

		if verdict.Score >= policy.AcceptScore {
			log.Debug().
				Str("thread", candidate.Thread.ID).
				Int("score", verdict.Score).
				Float64("cosine", candidate.Cosine).
				Msg("Candidate accepted")
			return candidate, verdict, nil
		}
	}

	if sawUnavailable && judged == 0 && len(candidates) > 0 && !policy.FailOpen {
		return nil, nil, fmt.Errorf("judge unavailable for all %d candidates: %w", len(candidates), llm.ErrUnavailable)
	}

	return nil, nil, nil
}

// planCreate seeds a new thread from the article. The examined candidate IDs
// travel with the plan so the in-commit recheck never re-attaches to a thread
// this pass already declined; Advance applies only when the recheck absorbs
// the article into a concurrently created thread.
func (e *Engine) planCreate(article *models.Article, candidates []vector.Candidate, policy Policy) *db.AssignmentPlan {
	examined := make([]string, len(candidates))
	for i := range candidates {
		examined[i] = candidates[i].Thread.ID
	}
	return &db.AssignmentPlan{
		Article:      article,
		CreateThread: true,
		Thread: &models.Thread{
			Category:      article.Category,
			Country:       article.Country,
			Language:      article.Language,
			Title:         article.Title,
			Summary:       article.Summary,
			Blocked:       article.Blocked,
			BlockedReason: article.BlockedReason,
		},
		Linkage: &models.Linkage{
			Cosine:        1.0,
			Score:         models.SeedScore,
			Justification: "",
		},
		CosineThreshold: policy.CosineThreshold,
		Examined:        examined,
		Advance:         lifecycle.OnAttach,
	}
}

// planAttach builds the attach plan, including the regenerated thread
// content. Revision failures degrade gracefully: the attachment stands, the
// thread keeps its current title and summary.
func (e *Engine) planAttach(ctx context.Context, article *models.Article, winner *vector.Candidate, verdict *llm.Verdict) (*db.AssignmentPlan, error) {
	plan := &db.AssignmentPlan{
		Article: article,
		Thread:  winner.Thread,
		Linkage: &models.Linkage{
			Cosine:        winner.Cosine,
			Score:         verdict.Score,
			Justification: verdict.Justification,
		},
		Advance: lifecycle.OnAttach,
	}

	revision, err := e.llm.ReviseThread(ctx, article, winner.Thread)
	switch {
	case err == nil:
		update := &db.ThreadUpdate{
			Title:    revision.Title,
			Summary:  revision.Summary,
			Resolved: revision.Resolved,
		}
		embedding, embErr := e.llm.Embed(ctx, revision.Title+" "+revision.Summary)
		switch {
		case embErr == nil:
			update.Embedding = embedding
		case llm.IsBlocked(embErr):
			update.Blocked = true
			update.Reason = embErr.Error()
		default:
			return nil, fmt.Errorf("embed revised thread: %w", embErr)
		}
		plan.Revision = update
	case llm.IsBlocked(err):
		plan.Revision = &db.ThreadUpdate{Blocked: true, Reason: err.Error()}
	case errors.Is(err, llm.ErrMalformed):
		log.Warn().Err(err).Str("thread", winner.Thread.ID).Msg("Thread revision unparseable, keeping current content")
	default:
		return nil, fmt.Errorf("revise thread: %w", err)
	}

	return plan, nil
}
