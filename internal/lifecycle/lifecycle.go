// Package lifecycle derives thread status from attachment recency and
// frequency.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/threadline/internal/config"
	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/pkg/models"
)

// OnAttach computes a thread's status after a successful attachment.
// The attachments count includes the linkage just written.
//
//	started  -> evolving  on the second attachment
//	stale    -> evolving  a new attachment revives the thread
//	likely_resolved -> evolving  the attachment explicitly reopens the story
//
// A first attachment (the seed linkage) keeps the thread in started.
func OnAttach(current models.ThreadStatus, attachments int64) models.ThreadStatus {
	switch current {
	case models.StatusStarted:
		if attachments >= 2 {
			return models.StatusEvolving
		}
		return models.StatusStarted
	case models.StatusStale, models.StatusLikelyResolved:
		return models.StatusEvolving
	default:
		return models.StatusEvolving
	}
}

// Manager runs the periodic sweep that ages silent threads. Transitions made
// by the sweep need no new attachment; they only observe recency.
type Manager struct {
	threads *db.ThreadStore

	mu  sync.RWMutex
	cfg config.LifecycleConfig
}

// NewManager creates a lifecycle manager.
func NewManager(threads *db.ThreadStore, cfg config.LifecycleConfig) *Manager {
	return &Manager{threads: threads, cfg: cfg}
}

// SetConfig swaps the recency windows, e.g. after a config reload.
func (m *Manager) SetConfig(cfg config.LifecycleConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) config() config.LifecycleConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Sweep performs one aging pass: started/evolving threads silent beyond
// StaleAfter become stale; stale threads silent beyond ResolveAfter become
// likely_resolved. Returns the transition counts.
func (m *Manager) Sweep(ctx context.Context) (stale, resolved int64, err error) {
	cfg := m.config()
	now := time.Now().UTC()

	stale, err = m.threads.MarkStale(ctx, now.Add(-cfg.StaleAfter))
	if err != nil {
		return 0, 0, err
	}

	resolved, err = m.threads.MarkLikelyResolved(ctx, now.Add(-cfg.ResolveAfter))
	if err != nil {
		return stale, 0, err
	}

	return stale, resolved, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.config().SweepInterval
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, resolved, err := m.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Lifecycle sweep failed")
				continue
			}
			if stale > 0 || resolved > 0 {
				log.Info().
					Int64("stale", stale).
					Int64("likely_resolved", resolved).
					Msg("Lifecycle sweep transitioned threads")
			}
		}
	}
}
