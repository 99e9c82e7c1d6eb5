package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/internal/engine"
	"github.com/thebtf/threadline/internal/llm"
	"github.com/thebtf/threadline/internal/worker/sse"
	"github.com/thebtf/threadline/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	articles, err := s.articles.Count(r.Context())
	if err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"ready":    s.ready.Load(),
		"uptime":   time.Since(s.startTime).String(),
		"clients":  s.broadcaster.ClientCount(),
		"articles": articles,
	})
}

func (s *Service) handleListThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := db.ListParams{
		SortBy: q.Get("sort"),
		Order:  q.Get("order"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.Status = status
	}
	params.Page, _ = strconv.Atoi(q.Get("page"))
	params.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	threads, total, err := s.threads.List(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threads": threads,
		"total":   total,
	})
}

func (s *Service) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	threads, err := s.search.Search(r.Context(), term, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   term,
		"threads": threads,
	})
}

func (s *Service) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.threads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Service) handleThreadArticles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	thread, err := s.threads.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	articles, err := s.threads.ListArticles(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": id,
		"articles":  articles,
	})
}

func (s *Service) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	thread, err := s.threads.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	if err := s.threads.DeleteCascade(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete thread")
		return
	}

	log.Info().Str("thread", id).Msg("Thread deleted")
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleIngestArticle assigns a single article synchronously and reports the
// outcome. The batch path goes through the ingest runner instead.
func (s *Service) handleIngestArticle(w http.ResponseWriter, r *http.Request) {
	var incoming models.IncomingArticle
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid article payload")
		return
	}
	if incoming.URL == "" || incoming.Title == "" {
		writeError(w, http.StatusBadRequest, "url and title are required")
		return
	}

	outcome, err := s.engine.Assign(r.Context(), &incoming)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "assignment temporarily unavailable")
			return
		}
		log.Error().Err(err).Str("url", incoming.URL).Msg("Assignment failed")
		writeError(w, http.StatusInternalServerError, "assignment failed")
		return
	}

	s.broadcastOutcome(&incoming, outcome)

	code := http.StatusCreated
	if outcome.Duplicate {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"duplicate": outcome.Duplicate,
		"created":   outcome.Created,
		"thread_id": outcome.ThreadID,
		"status":    outcome.Status,
		"score":     outcome.Score,
		"cosine":    outcome.Cosine,
	})
}

func (s *Service) broadcastOutcome(incoming *models.IncomingArticle, outcome *engine.Outcome) {
	event := sse.Event{
		ArticleURL: incoming.URL,
		ThreadID:   outcome.ThreadID,
		Status:     string(outcome.Status),
		Score:      outcome.Score,
		Time:       time.Now().UTC(),
	}
	switch {
	case outcome.Duplicate:
		event.Type = sse.EventDuplicate
	case outcome.Created:
		event.Type = sse.EventThreadCreated
	default:
		event.Type = sse.EventArticleAttached
	}
	s.broadcaster.Broadcast(event)
}
