package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/sitewatch/internal/metrics"
)

// CycleFunc runs one poll cycle. The context is cancelled when the
// scheduler stops.
type CycleFunc func(ctx context.Context) error

// Scheduler runs a [CycleFunc] immediately and then at a fixed interval.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	name     string
	interval time.Duration
	cycle    CycleFunc
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	inFlight atomic.Bool
	cycles   atomic.Int64
	skipped  atomic.Int64
}

// NewScheduler creates a new [Scheduler].
//
// Parameters:
//   - name: view label used in logs and metrics
//   - interval: time between schedule points; 0 runs the initial cycle only
//   - cycle: the poll cycle to run
//   - logger: logger for scheduler events (skipped ticks, panic recovery)
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop].
func NewScheduler(name string, interval time.Duration, cycle CycleFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		cycle:    cycle,
		logger:   logger.With("view", name),
	}
}

// Interval returns the configured interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins the polling loop in a background goroutine.
//
// Start is non-blocking. The scheduler will:
//  1. Run one cycle immediately
//  2. If the interval is positive, tick at that interval
//  3. On each tick, run a cycle unless one is still in flight
//  4. Continue until [Scheduler.Stop] is called or ctx is cancelled
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	pollCtx := s.ctx // capture under lock to avoid race
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		s.tryCycle(pollCtx)

		if s.interval <= 0 {
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.tryCycle(pollCtx)
			}
		}
	}()
}

// Stop cancels the scheduler's context and blocks until the polling loop
// and any in-flight cycle have returned.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// InFlight reports whether a scheduled cycle is currently running.
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Cycles returns the number of cycles started by the scheduler.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// Skipped returns the number of ticks dropped because a cycle was in flight.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// tryCycle starts a cycle in its own goroutine unless one is in flight, so
// the ticker loop keeps its cadence while the cycle waits on the network.
func (s *Scheduler) tryCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.IncTicksSkipped(s.name)
		s.logger.Debug("tick skipped, cycle still in flight")
		return
	}
	s.cycles.Add(1)
	metrics.SetCyclesInFlight(s.name, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.inFlight.Store(false)
			metrics.SetCyclesInFlight(s.name, 0)
		}()
		// failures are logged by the cycle itself; the scheduler keeps going
		_ = s.safeCycle(ctx)
	}()
}

// safeCycle calls the cycle with panic recovery. A panic is logged with a
// correlation ID and its full stack and turned into an error.
func (s *Scheduler) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			metrics.IncSchedulerPanics()
			s.logger.Error("poll cycle panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("poll cycle panic (correlation_id: %s)", correlationID)
		}
	}()
	return s.cycle(ctx)
}
