package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelbist/sentinel/internal/observability"
)

// DefaultInterval is the tick period between decision cycles.
const DefaultInterval = 15 * time.Minute

// EngineControl reports whether the operator switch is on.
type EngineControl interface {
	Running() bool
}

// CycleFunc runs one decision cycle over the ticker universe.
type CycleFunc func(ctx context.Context)

// Runner ticks at a fixed interval and runs a cycle when both the operator
// switch is on and the session is open.
type Runner struct {
	calendar *Calendar
	control  EngineControl
	cycle    CycleFunc
	interval time.Duration
	logger   *zap.Logger

	now func() time.Time
}

// NewRunner creates a runner. interval <= 0 uses the default.
func NewRunner(calendar *Calendar, control EngineControl, cycle CycleFunc, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		calendar: calendar,
		control:  control,
		cycle:    cycle,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled. The first tick fires immediately so a
// restart mid-session does not wait a full interval.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session runner stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	now := r.now()
	running := r.control.Running()
	if running {
		observability.EngineRunning.Set(1)
	} else {
		observability.EngineRunning.Set(0)
	}

	switch {
	case !running:
		r.logger.Debug("tick skipped, engine switch off")
	case !r.calendar.IsOpen(now):
		r.logger.Debug("tick skipped, session closed",
			zap.Time("nextOpen", r.calendar.NextOpen(now)))
	default:
		r.cycle(ctx)
	}
}
