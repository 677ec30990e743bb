package score

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Timer runs the recovery sweep on a fixed period.
type Timer struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTimer creates a recovery sweep timer.
func NewTimer(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop terminates the loop after any in-flight sweep finishes. The
// channel is closed rather than signalled so the request is never lost
// while the loop is inside a sweep. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) sweep(ctx context.Context) {
	if _, err := t.sweeper.Run(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			t.logger.Warn("previous recovery sweep still running, skipping tick")
			return
		}
		t.logger.Warn("recovery sweep failed", "error", err)
	}
}
