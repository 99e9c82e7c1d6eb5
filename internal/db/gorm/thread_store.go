package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/threadline/pkg/models"
)

// ThreadStore provides thread-related database operations.
type ThreadStore struct {
	db *gorm.DB
}

// NewThreadStore creates a new thread store.
func NewThreadStore(store *Store) *ThreadStore {
	return &ThreadStore{db: store.DB}
}

// ListParams controls pagination, filtering and sorting of thread listings.
type ListParams struct {
	Status  models.ThreadStatus // empty means all statuses
	SortBy  string              // "created_at" or "updated_at" (default)
	Order   string              // "asc" or "desc" (default)
	Page    int                 // 1-based
	PerPage int
}

// List returns a page of threads plus the total count for the filter.
func (s *ThreadStore) List(ctx context.Context, p ListParams) ([]*models.Thread, int64, error) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = 20
	}

	query := s.db.WithContext(ctx).Model(&Thread{})
	if p.Status != "" {
		if !p.Status.Valid() {
			return nil, 0, errors.New("invalid status filter")
		}
		query = query.Where("status = ?", string(p.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortBy := "updated_at"
	if p.SortBy == "created_at" {
		sortBy = "created_at"
	}
	order := "DESC"
	if p.Order == "asc" {
		order = "ASC"
	}

	var threads []Thread
	err := query.
		Order(sortBy + " " + order).
		Offset((p.Page - 1) * p.PerPage).
		Limit(p.PerPage).
		Find(&threads).Error
	if err != nil {
		return nil, 0, err
	}

	return toModelThreads(threads), total, nil
}

// Get retrieves a thread by ID. Returns nil when absent.
func (s *ThreadStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	var t Thread
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelThread(&t), nil
}

// ListByPartition returns all threads in a (category, country, language)
// partition with embeddings loaded. Used by the linear vector scanner.
func (s *ThreadStore) ListByPartition(ctx context.Context, p models.Partition) ([]*models.Thread, error) {
	var threads []Thread
	err := s.db.WithContext(ctx).
		Where("category = ? AND country = ? AND language = ?", p.Category, p.Country, p.Language).
		Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return toModelThreads(threads), nil
}

// MatchField returns threads whose given text field contains the term,
// most recently updated first. field must be "title" or "summary".
func (s *ThreadStore) MatchField(ctx context.Context, field, term string, limit int) ([]*models.Thread, error) {
	if field != "title" && field != "summary" {
		return nil, errors.New("field must be title or summary")
	}
	if limit <= 0 {
		limit = 20
	}

	var threads []Thread
	err := s.db.WithContext(ctx).
		Where("LOWER("+field+") LIKE ?", "%"+strings.ToLower(term)+"%").
		Order("updated_at DESC").
		Limit(limit).
		Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return toModelThreads(threads), nil
}

// ListArticles returns the thread's linked articles in attachment order,
// each with the cosine similarity and judgment score recorded at attach time.
func (s *ThreadStore) ListArticles(ctx context.Context, threadID string) ([]*models.LinkedArticle, error) {
	var linkages []Linkage
	err := s.db.WithContext(ctx).
		Preload("Article").
		Where("thread_id = ?", threadID).
		Order("attached_at ASC").
		Find(&linkages).Error
	if err != nil {
		return nil, err
	}

	result := make([]*models.LinkedArticle, len(linkages))
	for i := range linkages {
		result[i] = &models.LinkedArticle{
			Article: *toModelArticle(&linkages[i].Article),
			Linkage: *toModelLinkage(&linkages[i]),
		}
	}
	return result, nil
}

// CountLinkages returns the number of articles attached to a thread.
func (s *ThreadStore) CountLinkages(ctx context.Context, threadID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Linkage{}).
		Where("thread_id = ?", threadID).
		Count(&count).Error
	return count, err
}

// MarkStale flips started/evolving threads whose most recent attachment is
// older than cutoff to stale. Returns the number of threads transitioned.
// A thread with no linkages falls back to its creation time.
func (s *ThreadStore) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE threads SET status = ?, updated_at = ?
		 WHERE status IN (?, ?)
		 AND COALESCE(
		     (SELECT MAX(l.attached_at) FROM linkages l WHERE l.thread_id = threads.id),
		     threads.created_at) < ?`,
		string(models.StatusStale), time.Now().UTC(),
		string(models.StatusStarted), string(models.StatusEvolving),
		cutoff,
	)
	return result.RowsAffected, result.Error
}

// MarkLikelyResolved flips stale threads silent beyond the resolve window to
// likely_resolved. Returns the number of threads transitioned.
func (s *ThreadStore) MarkLikelyResolved(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE threads SET status = ?, updated_at = ?
		 WHERE status = ?
		 AND COALESCE(
		     (SELECT MAX(l.attached_at) FROM linkages l WHERE l.thread_id = threads.id),
		     threads.created_at) < ?`,
		string(models.StatusLikelyResolved), time.Now().UTC(),
		string(models.StatusStale),
		cutoff,
	)
	return result.RowsAffected, result.Error
}

// DeleteCascade removes a thread, its linkages, and any articles left
// orphaned by the removal. This is the administrative deletion path; normal
// operation never deletes threads.
func (s *ThreadStore) DeleteCascade(ctx context.Context, threadID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var articleIDs []string
		if err := tx.Model(&Linkage{}).
			Where("thread_id = ?", threadID).
			Pluck("article_id", &articleIDs).Error; err != nil {
			return err
		}

		// Linkages go via FK cascade; delete explicitly so SQLite tests pass
		// even without foreign_keys enabled.
		if err := tx.Where("thread_id = ?", threadID).Delete(&Linkage{}).Error; err != nil {
			return err
		}

		if err := tx.Delete(&Thread{}, "id = ?", threadID).Error; err != nil {
			return err
		}

		if len(articleIDs) == 0 {
			return nil
		}

		// Remove articles that no longer link to any thread.
		return tx.
			Where("id IN ?", articleIDs).
			Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).
				Model(&Linkage{}).Select("article_id")).
			Delete(&Article{}).Error
	})
}
