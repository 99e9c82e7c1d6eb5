// Package models defines the domain types shared across threadline.
package models

import (
	"fmt"
	"time"
)

// ThreadStatus describes where a thread sits in its lifecycle.
type ThreadStatus string

// Thread lifecycle states.
const (
	StatusStarted        ThreadStatus = "started"
	StatusEvolving       ThreadStatus = "evolving"
	StatusStale          ThreadStatus = "stale"
	StatusLikelyResolved ThreadStatus = "likely_resolved"
)

// AllStatuses lists every valid thread status.
var AllStatuses = []ThreadStatus{
	StatusStarted, StatusEvolving, StatusStale, StatusLikelyResolved,
}

// Valid reports whether the status is one of the four lifecycle states.
func (s ThreadStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusEvolving, StatusStale, StatusLikelyResolved:
		return true
	}
	return false
}

// ParseStatus converts a string to a ThreadStatus, rejecting unknown values.
func ParseStatus(raw string) (ThreadStatus, error) {
	s := ThreadStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown thread status %q", raw)
	}
	return s, nil
}

// Thread is a cluster of articles believed to describe the same evolving story.
// Title, summary, embedding and status are regenerated as articles attach;
// UpdatedAt always reflects the most recent successful attachment or sweep.
type Thread struct {
	ID            string       `json:"id"`
	Category      string       `json:"category"`
	Country       string       `json:"country"`
	Language      string       `json:"language"`
	Title         string       `json:"title"`
	Summary       string       `json:"summary"`
	Embedding     []float32    `json:"-"`
	Status        ThreadStatus `json:"status"`
	Blocked       bool         `json:"blocked,omitempty"`
	BlockedReason string       `json:"blocked_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Partition identifies the (category, country, language) slice a thread or
// article belongs to. Threads never merge across partitions.
type Partition struct {
	Category string
	Country  string
	Language string
}

// Partition returns the thread's partition key.
func (t *Thread) Partition() Partition {
	return Partition{Category: t.Category, Country: t.Country, Language: t.Language}
}
