package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowlake/flowlake/common/messaging"
	"github.com/flowlake/flowlake/replicator/internal/lease"
	"github.com/flowlake/flowlake/replicator/internal/models"
)

var errInsert = errors.New("clickhouse: connection reset by peer")

// memoryTable emulates a ReplacingMergeTree table: every insert is kept,
// Final collapses rows sharing the ORDER BY key.
type memoryTable struct {
	mu        sync.Mutex
	rows      []models.AnalyticsRow
	inserts   int
	failCalls map[int]bool
	failAll   bool
	statsErr  error

	// afterInsert runs after every successful insert.
	afterInsert func()
}

func newMemoryTable() *memoryTable {
	return &memoryTable{failCalls: make(map[int]bool)}
}

func (m *memoryTable) InsertRows(ctx context.Context, rows []models.AnalyticsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inserts++
	if m.failAll || m.failCalls[m.inserts] {
		return errInsert
	}
	m.rows = append(m.rows, rows...)
	if m.afterInsert != nil {
		m.afterInsert()
	}
	return nil
}

func (m *memoryTable) WatermarkStats(ctx context.Context) (uint64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statsErr != nil {
		return 0, time.Time{}, m.statsErr
	}
	var latest time.Time
	for _, r := range m.rows {
		if r.UpdateTimestamp.After(latest) {
			latest = r.UpdateTimestamp
		}
	}
	return uint64(len(m.rows)), latest, nil
}

// failInsert makes the n-th InsertRows call (1-based) fail.
func (m *memoryTable) failInsert(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCalls[n] = true
}

func (m *memoryTable) setFailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

func (m *memoryTable) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// final returns the de-duplicated table state, keeping the row with the
// latest update_timestamp per key.
func (m *memoryTable) final() map[models.Key]models.AnalyticsRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[models.Key]models.AnalyticsRow)
	for _, r := range m.rows {
		if prev, ok := out[r.Key()]; !ok || !r.UpdateTimestamp.Before(prev.UpdateTimestamp) {
			out[r.Key()] = r
		}
	}
	return out
}

type recordingNotifier struct {
	mu         sync.Mutex
	watermarks []messaging.WatermarkAdvancedEvent
	completed  []messaging.CycleCompletedEvent
	failed     []messaging.CycleFailedEvent
}

func (n *recordingNotifier) WatermarkAdvanced(_ context.Context, evt messaging.WatermarkAdvancedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.watermarks = append(n.watermarks, evt)
}

func (n *recordingNotifier) CycleCompleted(_ context.Context, evt messaging.CycleCompletedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, evt)
}

func (n *recordingNotifier) CycleFailed(_ context.Context, evt messaging.CycleFailedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, evt)
}

func (n *recordingNotifier) advancedTo() []time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]time.Time, len(n.watermarks))
	for i, e := range n.watermarks {
		out[i] = e.Watermark
	}
	return out
}

type deniedLease struct{ calls int }

func (d *deniedLease) Acquire(context.Context) (lease.Claim, error) {
	d.calls++
	return nil, lease.ErrNotAcquired
}

func (d *deniedLease) Holder(context.Context) (string, error) { return "other-replica", nil }

func (d *deniedLease) Close() error { return nil }

type brokenLease struct{}

func (brokenLease) Acquire(context.Context) (lease.Claim, error) {
	return nil, errors.New("redis: connection refused")
}

func (brokenLease) Holder(context.Context) (string, error) { return "", nil }

func (brokenLease) Close() error { return nil }

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
