package sim

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Handler receives the simulated time of one tick. Every handler of a tick
// gets the same value; none should read the clock itself.
type Handler func(ctx context.Context, simTime time.Time)

// Loop reads the clock once per tick and calls each handler in order on the
// loop goroutine.
type Loop struct {
	clock    *Clock
	interval time.Duration
	handlers []Handler
	logger   *slog.Logger

	ticks   atomic.Int64
	overrun atomic.Int64
}

// NewLoop creates a loop ticking every interval (default 100ms).
func NewLoop(clock *Clock, interval time.Duration, logger *slog.Logger, handlers ...Handler) *Loop {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Loop{
		clock:    clock,
		interval: interval,
		handlers: handlers,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled. It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("sim loop started", "component", "sim",
		"interval_ms", l.interval.Milliseconds(), "rate", l.clock.Rate())

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sim loop stopped", "component", "sim", "ticks", l.ticks.Load())
			return nil
		case <-ticker.C:
			l.Step(ctx)
		}
	}
}

// Step runs a single tick immediately and returns its simulated time.
func (l *Loop) Step(ctx context.Context) time.Time {
	start := time.Now()
	simTime := l.clock.Now()
	for _, h := range l.handlers {
		h(ctx, simTime)
	}
	l.ticks.Add(1)

	if d := time.Since(start); d > l.interval {
		l.overrun.Add(1)
		l.logger.Debug("tick overran interval", "component", "sim",
			"duration_ms", d.Milliseconds(), "interval_ms", l.interval.Milliseconds())
	}
	return simTime
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() int64 {
	return l.ticks.Load()
}

// Overruns returns how many ticks took longer than the interval.
func (l *Loop) Overruns() int64 {
	return l.overrun.Load()
}
