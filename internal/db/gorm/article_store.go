package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/thebtf/threadline/pkg/models"
)

// ArticleStore provides article-related database operations.
type ArticleStore struct {
	db *gorm.DB
}

// NewArticleStore creates a new article store.
func NewArticleStore(store *Store) *ArticleStore {
	return &ArticleStore{db: store.DB}
}

// ExistsByURL reports whether an article with the given URL is already stored.
func (s *ArticleStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Article{}).
		Where("url = ?", url).
		Count(&count).Error
	return count > 0, err
}

// GetByURL retrieves an article by URL. Returns nil when absent.
func (s *ArticleStore) GetByURL(ctx context.Context, url string) (*models.Article, error) {
	var a Article
	err := s.db.WithContext(ctx).Where("url = ?", url).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelArticle(&a), nil
}

// GetByID retrieves an article by ID. Returns nil when absent.
func (s *ArticleStore) GetByID(ctx context.Context, id string) (*models.Article, error) {
	var a Article
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelArticle(&a), nil
}

// Count returns the number of stored articles.
func (s *ArticleStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Article{}).Count(&count).Error
	return count, err
}
