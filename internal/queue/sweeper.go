// ABOUTME: Background sweeper that times out stale queue entries and drains queues
// ABOUTME: Runs on a ticker until its context is canceled

package queue

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically abandons conversations that waited past MaxWait
// and retries assignment for everything still queued
type Sweeper struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the queue
func NewSweeper(q *Queue, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		queue:    q,
		interval: interval,
		logger:   slog.Default().With("component", "sweeper"),
	}
}

// Run blocks, sweeping every interval until ctx is canceled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every tenant with waiting entries
func (s *Sweeper) Sweep(ctx context.Context) {
	tenants, err := s.queue.store.ListTenantsWithWaiting(ctx)
	if err != nil {
		s.logger.Error("tenant scan failed", "error", err)
		return
	}

	for _, tenantID := range tenants {
		expired := s.expireStale(ctx, tenantID)
		assigned := s.queue.ProcessQueue(ctx, tenantID)
		if expired > 0 || len(assigned) > 0 {
			s.logger.Info("sweep pass",
				"tenant_id", tenantID, "expired", expired, "assigned", len(assigned))
		}
	}
}

// expireStale abandons the tenant's entries older than MaxWait
func (s *Sweeper) expireStale(ctx context.Context, tenantID string) int {
	entries, err := s.queue.store.ListWaitingEntries(ctx, tenantID)
	if err != nil {
		s.logger.Error("queue scan failed", "tenant_id", tenantID, "error", err)
		return 0
	}

	cutoff := time.Now().UTC().Add(-s.queue.cfg.MaxWait)
	expired := 0
	for _, entry := range entries {
		if entry.QueuedAt.After(cutoff) {
			continue
		}
		if err := s.queue.Abandon(ctx, entry.ConversationID, ReasonTimeout); err != nil {
			s.logger.Warn("timeout abandon failed",
				"conversation_id", entry.ConversationID, "error", err)
			continue
		}
		expired++
	}
	return expired
}
