// Package service runs sync cycles: read a window of mutation records, map
// them, write them in batches and advance the watermark after every durable
// flush.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/common/messaging"
	"github.com/flowlake/flowlake/replicator/internal/lease"
	"github.com/flowlake/flowlake/replicator/internal/mapper"
	"github.com/flowlake/flowlake/replicator/internal/metrics"
	"github.com/flowlake/flowlake/replicator/internal/models"
	"github.com/flowlake/flowlake/replicator/internal/notify"
	"github.com/flowlake/flowlake/replicator/internal/source"
	"github.com/flowlake/flowlake/replicator/internal/watermark"
	"github.com/flowlake/flowlake/replicator/internal/writer"
)

// Config tunes a Replicator.
type Config struct {
	// Table names the analytics table in logs and events.
	Table string

	// Lag keeps the window end behind now so in-flight source transactions
	// settle before their rows are read.
	Lag time.Duration

	// BatchLimit is the page size read from the source.
	BatchLimit int

	// FlushRetries is how many times a failed flush is retried in place
	// before the cycle is aborted.
	FlushRetries int
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	CycleID         string            `json:"cycle_id"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration"`
	Window          models.SyncWindow `json:"window"`
	Pages           int               `json:"pages"`
	Rows            int               `json:"rows"`
	Flushes         int               `json:"flushes"`
	WatermarkBefore time.Time         `json:"watermark_before"`
	WatermarkAfter  time.Time         `json:"watermark_after"`

	// Empty is set when the window held no instant to replicate.
	Empty bool `json:"empty"`

	// Skipped is set when another replica held the lease.
	Skipped bool `json:"skipped"`
}

// Replicator owns the watermark and the write buffer for one analytics
// table. SyncOnce must not be called concurrently.
type Replicator struct {
	cfg      Config
	source   source.Source
	writer   *writer.Writer
	tracker  *watermark.Tracker
	lease    lease.Lease
	claim    lease.Claim
	catchUp  bool
	notifier notify.Notifier
	now      func() time.Time
	backOff  func() backoff.BackOff
	logger   *logging.Logger
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithLease coordinates cycles with other replicas. Because another replica
// may have advanced the destination, the watermark catches up with it at the
// start of every cycle.
func WithLease(l lease.Lease) Option {
	return func(r *Replicator) {
		r.lease = l
		r.catchUp = true
	}
}

// WithNotifier publishes progress events.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Replicator) { r.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Replicator) { r.now = now }
}

// WithBackOff sets the policy between in-cycle flush retries.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(r *Replicator) { r.backOff = f }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Replicator) { r.logger = l }
}

// New creates a Replicator.
func New(cfg Config, src source.Source, w *writer.Writer, tracker *watermark.Tracker, opts ...Option) *Replicator {
	r := &Replicator{
		cfg:      cfg,
		source:   src,
		writer:   w,
		tracker:  tracker,
		lease:    lease.NoopLease{},
		notifier: notify.Noop{},
		now:      time.Now,
		backOff:  defaultBackOff,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logging.Component("replicator"), logging.Table(cfg.Table))
	return r
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Watermark returns the last published watermark; safe from any goroutine.
func (r *Replicator) Watermark() time.Time {
	return r.tracker.Snapshot()
}

// Initialize recovers the watermark from the destination. SyncOnce calls it
// lazily when startup recovery failed.
func (r *Replicator) Initialize(ctx context.Context) error {
	_, err := r.tracker.Initialize(ctx)
	return err
}

// SyncOnce runs one cycle over [watermark, now-lag). On error the buffer is
// discarded and the watermark keeps its last flushed value, so the next
// cycle re-reads the remainder.
func (r *Replicator) SyncOnce(ctx context.Context) (*CycleResult, error) {
	began := time.Now()
	res := &CycleResult{CycleID: newCycleID(), StartedAt: r.now().UTC()}
	ctx = logging.ContextWithCycleID(ctx, res.CycleID)

	claim, err := r.lease.Acquire(ctx)
	if errors.Is(err, lease.ErrNotAcquired) {
		res.Skipped = true
		metrics.LeaseSkips.Inc()
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		r.logger.DebugContext(ctx, "sync cycle skipped, lease held elsewhere")
		return res, nil
	}
	if err != nil {
		return res, r.fail(ctx, res, err)
	}
	r.claim = claim
	defer func() {
		r.claim = nil
		if err := claim.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "failed to release lease", logging.Error(err))
		}
	}()

	if err := r.prepareWatermark(ctx); err != nil {
		return res, r.fail(ctx, res, err)
	}

	res.WatermarkBefore = r.tracker.Current()
	res.WatermarkAfter = res.WatermarkBefore
	res.Window = models.NewSyncWindow(res.WatermarkBefore, res.StartedAt, r.cfg.Lag)

	if res.Window.IsEmpty() {
		res.Empty = true
		metrics.CyclesTotal.WithLabelValues("empty").Inc()
		r.logger.DebugContext(ctx, "sync window empty", slog.String("window", res.Window.String()))
		return res, nil
	}

	err = r.replicate(ctx, res)
	res.WatermarkAfter = r.tracker.Current()
	res.Duration = time.Since(began)
	metrics.CycleDuration.Observe(res.Duration.Seconds())

	if err != nil {
		r.writer.Discard()
		return res, r.fail(ctx, res, err)
	}

	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	r.notifier.CycleCompleted(ctx, messaging.CycleCompletedEvent{
		CycleID:         res.CycleID,
		Table:           r.cfg.Table,
		WindowStart:     res.Window.Start,
		WindowEnd:       res.Window.End,
		Rows:            res.Rows,
		Pages:           res.Pages,
		Flushes:         res.Flushes,
		WatermarkBefore: res.WatermarkBefore,
		WatermarkAfter:  res.WatermarkAfter,
		DurationMS:      res.Duration.Milliseconds(),
	})

	attrs := []any{
		slog.String("window", res.Window.String()),
		logging.Rows(res.Rows),
		slog.Int("flushes", res.Flushes),
		logging.Watermark(res.WatermarkAfter),
		logging.Duration(res.Duration),
	}
	if res.Rows > 0 {
		r.logger.InfoContext(ctx, "sync cycle completed", attrs...)
	} else {
		r.logger.DebugContext(ctx, "sync cycle completed", attrs...)
	}
	return res, nil
}

func (r *Replicator) prepareWatermark(ctx context.Context) error {
	if !r.tracker.Initialized() {
		_, err := r.tracker.Initialize(ctx)
		return err
	}
	if r.catchUp {
		_, err := r.tracker.CatchUp(ctx)
		return err
	}
	return nil
}

func (r *Replicator) replicate(ctx context.Context, res *CycleResult) error {
	pages := r.source.Fetch(res.Window, r.cfg.BatchLimit)
	var last models.MutationRecord

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync cycle canceled: %w", err)
		}
		if err := r.renew(ctx); err != nil {
			return err
		}

		page, err := pages.Next(ctx)
		if err != nil {
			metrics.SourceErrors.Inc()
			return fmt.Errorf("failed to fetch records: %w", err)
		}
		if len(page) == 0 {
			break
		}
		res.Pages++
		metrics.PagesFetched.Inc()

		for _, rec := range page {
			pending := r.writer.Len() + 1
			flushed, err := r.append(ctx, mapper.Map(rec))
			if err != nil {
				return err
			}
			if flushed {
				r.advance(ctx, res, rec.Modified, pending)
			}
			last = rec
		}
	}

	if pending := r.writer.Len(); pending > 0 {
		if err := r.flush(ctx); err != nil {
			return err
		}
		r.advance(ctx, res, last.Modified, pending)
	}
	return nil
}

// renew extends the cycle's lease. Once another replica may hold it, the
// cycle must not write again.
func (r *Replicator) renew(ctx context.Context) error {
	if r.claim == nil {
		return nil
	}
	err := r.claim.Renew(ctx)
	if errors.Is(err, lease.ErrLost) {
		metrics.LeaseLost.Inc()
		r.logger.WarnContext(ctx, "lease expired during sync cycle, aborting")
	}
	return err
}

// advance records a durable flush of n rows ending at ts.
func (r *Replicator) advance(ctx context.Context, res *CycleResult, ts time.Time, n int) {
	previous := r.tracker.Current()
	r.tracker.Advance(ts)
	res.Flushes++
	res.Rows += n

	r.notifier.WatermarkAdvanced(ctx, messaging.WatermarkAdvancedEvent{
		CycleID:   res.CycleID,
		Table:     r.cfg.Table,
		Previous:  previous,
		Watermark: r.tracker.Current(),
		Rows:      n,
	})
}

func (r *Replicator) append(ctx context.Context, row models.AnalyticsRow) (bool, error) {
	flushed, err := r.writer.Append(ctx, row)
	if err == nil {
		return flushed, nil
	}
	if err := r.retryFlush(ctx, err); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Replicator) flush(ctx context.Context) error {
	if err := r.writer.Flush(ctx); err != nil {
		return r.retryFlush(ctx, err)
	}
	return nil
}

// retryFlush retries the buffered batch after a failed flush. Only write
// errors are retried; the buffer is unchanged between attempts.
func (r *Replicator) retryFlush(ctx context.Context, cause error) error {
	var werr *writer.WriteError
	if !errors.As(cause, &werr) || r.cfg.FlushRetries <= 0 {
		return cause
	}

	b := r.backOff()
	b.Reset()
	err := cause
	for attempt := 1; attempt <= r.cfg.FlushRetries; attempt++ {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		metrics.FlushRetries.Inc()
		r.logger.WarnContext(ctx, "flush failed, retrying",
			logging.Error(err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		if rerr := r.renew(ctx); rerr != nil {
			return rerr
		}

		if err = r.writer.Flush(ctx); err == nil {
			return nil
		}
	}
	return err
}

func (r *Replicator) fail(ctx context.Context, res *CycleResult, err error) error {
	metrics.CyclesTotal.WithLabelValues("failed").Inc()
	r.notifier.CycleFailed(ctx, messaging.CycleFailedEvent{
		CycleID:   res.CycleID,
		Table:     r.cfg.Table,
		Error:     err.Error(),
		Rows:      res.Rows,
		Watermark: r.tracker.Current(),
	})
	return err
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
