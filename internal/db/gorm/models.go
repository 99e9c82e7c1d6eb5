// Package gorm provides GORM-based persistence for threadline.
package gorm

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/thebtf/threadline/pkg/models"
)

// GORM Models
//
// The persisted schema is a three-relation contract: articles (unique url),
// threads (status constrained to the four lifecycle values), linkages
// (bounded score, composite key, cascading delete from either parent).

// Article is the persisted form of models.Article.
type Article struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	URL           string          `gorm:"uniqueIndex;not null"`
	Category      string          `gorm:"index:idx_articles_partition,priority:1;not null"`
	Country       string          `gorm:"index:idx_articles_partition,priority:2;not null"`
	Language      string          `gorm:"index:idx_articles_partition,priority:3;not null"`
	Title         string          `gorm:"type:text;not null"`
	Description   string          `gorm:"type:text"`
	Content       string          `gorm:"type:text"`
	Image         string          `gorm:"type:text"`
	SourceName    string          `gorm:"type:text"`
	SourceURL     string          `gorm:"type:text"`
	Summary       string          `gorm:"type:text"`
	Embedding     pgvector.Vector `gorm:"type:vector(3072)"`
	Blocked       bool            `gorm:"default:false"`
	BlockedReason string          `gorm:"type:text"`
	PublishedAt   time.Time       `gorm:"index;not null"`
	CreatedAt     time.Time       `gorm:"not null"`
}

func (Article) TableName() string { return "articles" }

// BeforeCreate assigns identity and creation time when missing.
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Thread is the persisted form of models.Thread.
type Thread struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	Category      string          `gorm:"index:idx_threads_partition,priority:1;not null"`
	Country       string          `gorm:"index:idx_threads_partition,priority:2;not null"`
	Language      string          `gorm:"index:idx_threads_partition,priority:3;not null"`
	Title         string          `gorm:"type:text;not null"`
	Summary       string          `gorm:"type:text"`
	Embedding     pgvector.Vector `gorm:"type:vector(3072)"`
	Status        string          `gorm:"type:text;check:status IN ('started', 'evolving', 'stale', 'likely_resolved');index;not null"`
	Blocked       bool            `gorm:"default:false"`
	BlockedReason string          `gorm:"type:text"`
	CreatedAt     time.Time       `gorm:"index:idx_threads_created,sort:desc;not null"`
	UpdatedAt     time.Time       `gorm:"index:idx_threads_updated,sort:desc;not null"`
}

func (Thread) TableName() string { return "threads" }

// BeforeCreate assigns identity and timestamps when missing.
func (t *Thread) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = string(models.StatusStarted)
	}
	return nil
}

// Linkage ties one article to one thread with its similarity evidence.
// Both foreign keys cascade so removing either parent removes the row.
type Linkage struct {
	ThreadID      string    `gorm:"type:uuid;primaryKey"`
	ArticleID     string    `gorm:"type:uuid;primaryKey"`
	Cosine        float64   `gorm:"column:cosine_similarity;type:real;not null;check:cosine_similarity >= -1 AND cosine_similarity <= 1"`
	Score         int       `gorm:"not null;check:score >= 0 AND score <= 101"`
	Justification string    `gorm:"type:text"`
	AttachedAt    time.Time `gorm:"index:idx_linkages_attached;not null"`

	Thread  Thread  `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE"`
	Article Article `gorm:"foreignKey:ArticleID;constraint:OnDelete:CASCADE"`
}

func (Linkage) TableName() string { return "linkages" }

// BeforeCreate stamps the attachment time when missing.
func (l *Linkage) BeforeCreate(tx *gorm.DB) error {
	if l.AttachedAt.IsZero() {
		l.AttachedAt = time.Now().UTC()
	}
	return nil
}

// ====================
// Converters
// ====================

func toModelArticle(a *Article) *models.Article {
	return &models.Article{
		ID:            a.ID,
		URL:           a.URL,
		Category:      a.Category,
		Country:       a.Country,
		Language:      a.Language,
		Title:         a.Title,
		Description:   a.Description,
		Content:       a.Content,
		Image:         a.Image,
		SourceName:    a.SourceName,
		SourceURL:     a.SourceURL,
		Summary:       a.Summary,
		Embedding:     a.Embedding.Slice(),
		Blocked:       a.Blocked,
		BlockedReason: a.BlockedReason,
		PublishedAt:   a.PublishedAt,
		CreatedAt:     a.CreatedAt,
	}
}

func fromModelArticle(a *models.Article) *Article {
	return &Article{
		ID:            a.ID,
		URL:           a.URL,
		Category:      a.Category,
		Country:       a.Country,
		Language:      a.Language,
		Title:         a.Title,
		Description:   a.Description,
		Content:       a.Content,
		Image:         a.Image,
		SourceName:    a.SourceName,
		SourceURL:     a.SourceURL,
		Summary:       a.Summary,
		Embedding:     pgvector.NewVector(a.Embedding),
		Blocked:       a.Blocked,
		BlockedReason: a.BlockedReason,
		PublishedAt:   a.PublishedAt,
		CreatedAt:     a.CreatedAt,
	}
}

func toModelThread(t *Thread) *models.Thread {
	return &models.Thread{
		ID:            t.ID,
		Category:      t.Category,
		Country:       t.Country,
		Language:      t.Language,
		Title:         t.Title,
		Summary:       t.Summary,
		Embedding:     t.Embedding.Slice(),
		Status:        models.ThreadStatus(t.Status),
		Blocked:       t.Blocked,
		BlockedReason: t.BlockedReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func toModelThreads(threads []Thread) []*models.Thread {
	result := make([]*models.Thread, len(threads))
	for i := range threads {
		result[i] = toModelThread(&threads[i])
	}
	return result
}

func toModelLinkage(l *Linkage) *models.Linkage {
	return &models.Linkage{
		ThreadID:      l.ThreadID,
		ArticleID:     l.ArticleID,
		Cosine:        l.Cosine,
		Score:         l.Score,
		Justification: l.Justification,
		AttachedAt:    l.AttachedAt,
	}
}
