// Package watermark tracks the replication high-water mark: the modification
// timestamp up to which every record is known to be durably written.
package watermark

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/flowlake/flowlake/common/database"
	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/replicator/internal/metrics"
)

// SafetyOffset is subtracted from the value recovered at startup so rows
// sharing the latest second are re-read rather than skipped.
const SafetyOffset = time.Second

// Reader reads the aggregate the watermark is recovered from.
type Reader interface {
	WatermarkStats(ctx context.Context) (rows uint64, latest time.Time, err error)
}

// Tracker owns the watermark. It is driven by a single goroutine; other
// goroutines may only call Snapshot.
type Tracker struct {
	reader       Reader
	defaultEpoch time.Time
	readTimeout  time.Duration
	strict       bool
	logger       *slog.Logger

	current     time.Time
	initialized bool
	snapshot    atomic.Int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStrict makes a backward Advance panic instead of being clamped.
func WithStrict(strict bool) Option {
	return func(t *Tracker) { t.strict = strict }
}

// WithReadTimeout bounds the startup read.
func WithReadTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.readTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a Tracker that falls back to defaultEpoch when the
// destination is empty.
func NewTracker(reader Reader, defaultEpoch time.Time, opts ...Option) *Tracker {
	t := &Tracker{
		reader:       reader,
		defaultEpoch: defaultEpoch.UTC(),
		readTimeout:  database.DefaultQueryTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(logging.Component("watermark"))
	t.set(t.defaultEpoch.Add(-SafetyOffset))
	return t
}

// Initialize recovers the watermark from the destination: the latest
// update_timestamp, or the default epoch when the table is empty, minus
// SafetyOffset.
func (t *Tracker) Initialize(ctx context.Context) (time.Time, error) {
	base, err := t.recover(ctx)
	if err != nil {
		return time.Time{}, err
	}

	t.set(base.Add(-SafetyOffset))
	t.initialized = true
	t.logger.Info("watermark initialized", logging.Watermark(t.current))
	return t.current, nil
}

// CatchUp moves the watermark forward to the destination's state when
// another writer has progressed past it. It never moves backward.
func (t *Tracker) CatchUp(ctx context.Context) (bool, error) {
	base, err := t.recover(ctx)
	if err != nil {
		return false, err
	}
	candidate := base.Add(-SafetyOffset)
	if !candidate.After(t.current) {
		return false, nil
	}
	t.logger.Info("watermark caught up with destination",
		slog.Time("previous", t.current),
		logging.Watermark(candidate))
	t.set(candidate)
	return true, nil
}

func (t *Tracker) recover(ctx context.Context) (time.Time, error) {
	ctx, cancel := database.TimeoutContext(ctx, t.readTimeout, database.DefaultQueryTimeout)
	defer cancel()

	rows, latest, err := t.reader.WatermarkStats(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to recover watermark: %w", err)
	}
	if rows == 0 {
		return t.defaultEpoch, nil
	}
	return latest.UTC(), nil
}

// Initialized reports whether Initialize has succeeded.
func (t *Tracker) Initialized() bool {
	return t.initialized
}

// Advance moves the watermark to ts. It must only be called after the rows
// up to ts have been flushed. Moving backward panics in strict mode and is
// ignored otherwise.
func (t *Tracker) Advance(ts time.Time) {
	if ts.Before(t.current) {
		if t.strict {
			panic(fmt.Sprintf("watermark moved backward: %s -> %s",
				t.current.Format(time.RFC3339Nano), ts.Format(time.RFC3339Nano)))
		}
		metrics.WatermarkClamped.Inc()
		t.logger.Warn("ignoring backward watermark move",
			slog.Time("current", t.current),
			slog.Time("requested", ts))
		return
	}
	t.set(ts)
}

// Current returns the watermark. Owner goroutine only.
func (t *Tracker) Current() time.Time {
	return t.current
}

// Snapshot returns the last published watermark; safe from any goroutine.
func (t *Tracker) Snapshot() time.Time {
	return time.Unix(0, t.snapshot.Load()).UTC()
}

func (t *Tracker) set(ts time.Time) {
	t.current = ts.UTC()
	t.snapshot.Store(t.current.UnixNano())
	metrics.WatermarkSeconds.Set(float64(t.current.UnixNano()) / 1e9)
}
