// Package scheduler drives sync cycles on a fixed period. At most one cycle
// runs at a time; a tick that finds a cycle in flight is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/replicator/internal/metrics"
	"github.com/flowlake/flowlake/replicator/internal/service"
)

const (
	// DefaultInterval is the tick period when Config.Interval is unset.
	DefaultInterval = 10 * time.Second

	// DefaultRetryDelay is the supervisor's restart delay when Config.RetryDelay is unset.
	DefaultRetryDelay = 10 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNotRunning is returned by Stop on a stopped scheduler.
	ErrNotRunning = errors.New("scheduler not running")
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFailed
)

var states = []State{StateIdle, StateRunning, StateFailed}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Cycler runs one sync cycle.
type Cycler interface {
	SyncOnce(ctx context.Context) (*service.CycleResult, error)
}

// Config configures the scheduler.
type Config struct {
	// Interval between ticks.
	Interval time.Duration

	// RetryDelay is how long the supervisor waits before restarting a
	// failed tick loop.
	RetryDelay time.Duration
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State        State
	Running      bool
	LastRun      time.Time
	LastResult   *service.CycleResult
	LastError    string
	SkippedTicks int64
}

// Scheduler runs a Cycler every interval.
type Scheduler struct {
	mu         sync.RWMutex
	cycler     Cycler
	interval   time.Duration
	retryDelay time.Duration
	logger     *logging.Logger

	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cycles   sync.WaitGroup

	busy    atomic.Bool
	state   atomic.Int32
	skipped atomic.Int64

	lastRun    time.Time
	lastResult *service.CycleResult
	lastErr    error
}

// NewScheduler creates a scheduler. A nil logger uses the default logger.
func NewScheduler(cycler Cycler, cfg Config, logger *logging.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Scheduler{
		cycler:     cycler,
		interval:   cfg.Interval,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With(logging.Component("scheduler")),
	}
	s.setState(StateIdle)
	return s
}

// Start runs one cycle immediately and then one per tick until Stop is
// called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stopChan = make(chan struct{})
	s.cancel = cancel
	stop := s.stopChan
	s.mu.Unlock()

	s.logger.Info("sync scheduler starting", slog.Duration("interval", s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, stop, s.loop)
	}()
	return nil
}

// Stop ends the tick loop, cancels the in-flight cycle between pages and
// waits for it to return. A flush already underway completes.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	close(s.stopChan)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.cycles.Wait()
	s.logger.Info("sync scheduler stopped")
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// SkippedTicks returns how many ticks found a cycle still running.
func (s *Scheduler) SkippedTicks() int64 {
	return s.skipped.Load()
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:        s.State(),
		Running:      s.running,
		LastRun:      s.lastRun,
		LastResult:   s.lastResult,
		SkippedTicks: s.skipped.Load(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// supervise runs loop until it returns cleanly, restarting it after
// retryDelay whenever it fails.
func (s *Scheduler) supervise(ctx context.Context, stop <-chan struct{}, loop func(context.Context, <-chan struct{}) error) {
	for {
		err := s.protect(func() error { return loop(ctx, stop) })
		if err == nil {
			return
		}

		metrics.SupervisorRestarts.Inc()
		s.logger.Error("sync loop failed, restarting",
			logging.Error(err),
			slog.Duration("retry_in", s.retryDelay))

		timer := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.TicksSkipped.Inc()
		s.logger.Debug("tick skipped, sync cycle still running")
		return
	}

	s.setState(StateRunning)
	s.cycles.Add(1)
	go s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer s.cycles.Done()
	defer s.busy.Store(false)

	var (
		res *service.CycleResult
		err error
	)
	err = s.protect(func() error {
		var cycleErr error
		res, cycleErr = s.cycler.SyncOnce(ctx)
		return cycleErr
	})

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	if res != nil {
		s.lastResult = res
	}
	s.mu.Unlock()

	if err != nil {
		s.setState(StateFailed)
		attrs := []any{logging.Error(err)}
		if res != nil {
			attrs = append(attrs, logging.CycleID(res.CycleID), logging.Watermark(res.WatermarkAfter))
		}
		s.logger.Error("sync cycle failed", attrs...)
		return
	}
	s.setState(StateIdle)
}

func (s *Scheduler) setState(state State) {
	if prev := State(s.state.Swap(int32(state))); prev != state {
		s.logger.Debug("scheduler state changed",
			logging.State(state.String()),
			slog.String("previous", prev.String()))
	}
	for _, st := range states {
		v := 0.0
		if st == state {
			v = 1
		}
		metrics.SchedulerState.WithLabelValues(st.String()).Set(v)
	}
}
