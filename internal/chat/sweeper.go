package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CleanupCallback is called for every session removed by the sweeper.
type CleanupCallback func(sessionID string)

// Sweeper periodically removes idle sessions.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules idle session cleanup. schedule uses cron syntax,
// including descriptors such as "@every 5m".
func StartSweeper(ctx context.Context, ctrl *Controller, ttl time.Duration, schedule string, onCleanup CleanupCallback) (*Sweeper, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		removed, err := ctrl.ExpireIdle(ctx, ttl, onCleanup)
		if err != nil {
			slog.Error("Session sweeper failed", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("Session sweeper cleaned up idle sessions", "count", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	slog.Info("Session sweeper started", "schedule", schedule, "ttl", ttl)
	return &Sweeper{cron: c}, nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Session sweeper stopped")
}
