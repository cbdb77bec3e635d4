// Package writer buffers analytics rows and writes them to the analytics
// store in batches.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowlake/flowlake/common/database"
	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/replicator/internal/metrics"
	"github.com/flowlake/flowlake/replicator/internal/models"
)

// DefaultThreshold is the buffer size that triggers an automatic flush.
const DefaultThreshold = 1000

// Sink persists a batch of rows atomically.
type Sink interface {
	InsertRows(ctx context.Context, rows []models.AnalyticsRow) error
}

// WriteError is returned when a flush fails. The rows stay buffered.
type WriteError struct {
	Rows int
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %d rows: %v", e.Rows, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Writer is a size-triggered batch buffer. It is not safe for concurrent use.
type Writer struct {
	sink      Sink
	threshold int
	timeout   time.Duration
	logger    *slog.Logger
	buf       []models.AnalyticsRow
}

// Option configures a Writer.
type Option func(*Writer)

// WithTimeout bounds each flush.
func WithTimeout(d time.Duration) Option {
	return func(w *Writer) { w.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// New creates a Writer that flushes to sink whenever threshold rows are
// buffered. A non-positive threshold means DefaultThreshold.
func New(sink Sink, threshold int, opts ...Option) *Writer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	w := &Writer{
		sink:      sink,
		threshold: threshold,
		timeout:   database.DefaultBulkTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.buf = make([]models.AnalyticsRow, 0, threshold)
	return w
}

// Append buffers row and flushes when the buffer reaches the threshold.
// flushed reports whether this call wrote the buffer out. On a failed
// automatic flush the row is still buffered and a *WriteError is returned.
func (w *Writer) Append(ctx context.Context, row models.AnalyticsRow) (flushed bool, err error) {
	w.buf = append(w.buf, row)
	metrics.BufferedRows.Set(float64(len(w.buf)))

	if len(w.buf) < w.threshold {
		return false, nil
	}
	if err := w.Flush(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Flush writes all buffered rows. It is a no-op on an empty buffer. The
// write is detached from ctx cancellation so shutdown never cuts a batch in
// half; it is bounded by the writer's timeout instead.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	wctx, cancel := database.DetachedContext(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	err := w.sink.InsertRows(wctx, w.buf)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.FlushesTotal.WithLabelValues("failure").Inc()
		return &WriteError{Rows: len(w.buf), Err: err}
	}

	metrics.FlushesTotal.WithLabelValues("success").Inc()
	metrics.RowsReplicated.Add(float64(len(w.buf)))
	w.logger.DebugContext(ctx, "batch flushed",
		logging.Rows(len(w.buf)),
		logging.Duration(time.Since(start)))

	w.buf = make([]models.AnalyticsRow, 0, w.threshold)
	metrics.BufferedRows.Set(0)
	return nil
}

// Discard drops buffered rows without writing them.
func (w *Writer) Discard() {
	if len(w.buf) > 0 {
		w.logger.Warn("discarding buffered rows", logging.Rows(len(w.buf)))
	}
	w.buf = w.buf[:0]
	metrics.BufferedRows.Set(0)
}

// Len returns the number of buffered rows.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Threshold returns the automatic flush size.
func (w *Writer) Threshold() int {
	return w.threshold
}
