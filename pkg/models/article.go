package models

import "time"

// Article is a single ingested news item. The URL is its identity: re-ingesting
// the same URL is a no-op. Articles are immutable once stored; they disappear
// only when their owning thread is removed by an administrative cascade.
type Article struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Category      string    `json:"category"`
	Country       string    `json:"country"`
	Language      string    `json:"language"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Content       string    `json:"content"`
	Image         string    `json:"image,omitempty"`
	SourceName    string    `json:"source_name,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	Summary       string    `json:"summary"`
	Embedding     []float32 `json:"-"`
	Blocked       bool      `json:"blocked,omitempty"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Partition returns the article's (category, country, language) partition key.
func (a *Article) Partition() Partition {
	return Partition{Category: a.Category, Country: a.Country, Language: a.Language}
}

// IncomingArticle is the shape supplied by the external fetch collaborator,
// before a summary or embedding has been attached.
type IncomingArticle struct {
	URL         string    `json:"url"`
	Category    string    `json:"category"`
	Country     string    `json:"country"`
	Language    string    `json:"language"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Image       string    `json:"image,omitempty"`
	SourceName  string    `json:"source_name,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
