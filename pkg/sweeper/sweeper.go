// Package sweeper implements the timeout sweep: a periodic scan that nudges
// idle workflow instances with a synthetic timeout-reminder and parks the
// ones that exhausted their reminders as STALLED.
//
// The sweep is deliberately safe to run more often than strictly necessary:
// external schedulers double-fire and skip ticks, so one cycle is idempotent
// and concurrent API-driven resumes are fenced off by the engine's version
// check rather than by a lock.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/jalehto/virta/pkg/api"
)

// Config controls sweep thresholds. Zero values fall back to the defaults.
type Config struct {
	// ReminderThreshold is how long an instance may sit without activity
	// before it is nudged. Default 24h.
	ReminderThreshold time.Duration

	// MaxReminders is how many nudges an instance gets before it is
	// marked STALLED. Default 3.
	MaxReminders int

	// Interval is the tick period used by Run. Default 1h.
	Interval time.Duration

	Logger *slog.Logger
}

// Result summarizes one sweep cycle.
type Result struct {
	Scanned  int
	Reminded []string
	Stalled  []string
}

// Sweeper periodically scans active instances and drives timeout
// transitions through the engine.
type Sweeper struct {
	engine    api.Engine
	threshold time.Duration
	max       int
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Sweeper for the given engine.
func New(engine api.Engine, cfg Config) *Sweeper {
	threshold := cfg.ReminderThreshold
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	max := cfg.MaxReminders
	if max <= 0 {
		max = 3
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:    engine,
		threshold: threshold,
		max:       max,
		interval:  interval,
		logger:    logger,
	}
}

// Sweep runs one scan-and-nudge cycle against the clock value now.
//
// Nudges refresh the instance's lastActivity, so an immediate second sweep
// with the same now is a no-op for instances already handled. A nudge that
// loses a concurrent write race is skipped, not retried: whatever won the
// race already counts as activity.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	instances, err := s.engine.ListActive(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	seen := make(map[string]bool, len(instances))

	for _, inst := range instances {
		if seen[inst.ID] {
			continue
		}
		seen[inst.ID] = true
		res.Scanned++

		if inst.Status == api.StatusStalled {
			// Stalled instances wait for a human; auto-sweeping stops.
			continue
		}
		if now.Sub(inst.LastActivity()) <= s.threshold {
			continue
		}

		if inst.State.Int(api.KeyReminderCount) >= s.max {
			if _, err := s.engine.MarkStalled(ctx, inst.ID); err != nil {
				s.logSkip(ctx, "stall", inst.ID, err)
				continue
			}
			res.Stalled = append(res.Stalled, inst.ID)
			continue
		}

		payload := api.State{api.KeyAction: api.ActionTimeoutReminder}
		if _, err := s.engine.Nudge(ctx, inst.ID, payload); err != nil {
			s.logSkip(ctx, "nudge", inst.ID, err)
			continue
		}
		res.Reminded = append(res.Reminded, inst.ID)
	}

	return res, nil
}

// Run executes Sweep on every tick until ctx is cancelled. It is intended
// to be started as a goroutine next to the HTTP surface; deployments that
// drive sweeps via an external cron hit the control surface instead.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			res, err := s.Sweep(ctx, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "sweep_failed", slog.Any("error", err))
				continue
			}
			if len(res.Reminded) > 0 || len(res.Stalled) > 0 {
				s.logger.InfoContext(ctx, "sweep_completed",
					slog.Int("scanned", res.Scanned),
					slog.Int("reminded", len(res.Reminded)),
					slog.Int("stalled", len(res.Stalled)),
				)
			}
		}
	}
}

func (s *Sweeper) logSkip(ctx context.Context, op, id string, err error) {
	// A lost race means an API caller resumed the instance under us;
	// that is activity, not a failure.
	level := slog.LevelWarn
	if api.IsConcurrencyError(err) || api.IsInvalidStateError(err) {
		level = slog.LevelDebug
	}
	s.logger.Log(ctx, level, "sweep_skip",
		slog.String("op", op),
		slog.String("instance_id", id),
		slog.Any("error", err),
	)
}
