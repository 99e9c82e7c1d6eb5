package models

import (
	"fmt"
	"time"
)

// Judgment score bounds. Scores from the semantic judge land in [0, 100];
// SeedScore marks the synthetic linkage written when a new thread is created
// from the article itself.
const (
	ScoreMin  = 0
	ScoreMax  = 101
	SeedScore = 101
)

// Linkage records one article's attachment to one thread, together with the
// evidence that justified it. The (ThreadID, ArticleID) pair is written at
// most once per ingestion pass.
type Linkage struct {
	ThreadID      string    `json:"thread_id"`
	ArticleID     string    `json:"article_id"`
	Cosine        float64   `json:"cosine_similarity"`
	Score         int       `json:"score"`
	Justification string    `json:"justification"`
	AttachedAt    time.Time `json:"attached_at"`
}

// LinkedArticle is an article together with the linkage recorded when it
// attached to a thread. This is the read-interface shape consumed by the
// presentation layer.
type LinkedArticle struct {
	Article Article `json:"article"`
	Linkage
}

// Validate checks the linkage invariants: score within bounds, cosine within
// [-1, 1].
func (l *Linkage) Validate() error {
	if l.Score < ScoreMin || l.Score > ScoreMax {
		return fmt.Errorf("judgment score %d outside [%d, %d]", l.Score, ScoreMin, ScoreMax)
	}
	if l.Cosine < -1 || l.Cosine > 1 {
		return fmt.Errorf("cosine similarity %f outside [-1, 1]", l.Cosine)
	}
	return nil
}
