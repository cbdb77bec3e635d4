// Package schema creates the analytics table and keeps its retention TTL in
// line with configuration.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowlake/flowlake/common/database"
	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/replicator/internal/metrics"
)

// DefaultRetryDelay is the fixed pause between failed EnsureTable attempts.
const DefaultRetryDelay = 10 * time.Second

// Executor runs DDL statements against the analytics store.
type Executor interface {
	Exec(ctx context.Context, query string) error
}

// RetentionRule renders a retention period of days as a ClickHouse interval.
func RetentionRule(days int) string {
	return fmt.Sprintf("INTERVAL %d DAY", days)
}

// CreateTableDDL returns the CREATE TABLE statement for the analytics table.
// Downstream dashboards depend on this exact text.
func CreateTableDDL(table, retentionRule string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + `
(
  timestamp DateTime,
  update_timestamp DateTime,
  flow String,
  did String,
  files UInt64,
  ingressBytes UInt64,
  totalBytes UInt64,
  errored UInt64,
  filtered UInt64,
  egressed UInt64,
  annotations Map(String,String)
)
ENGINE = ReplacingMergeTree
ORDER BY (flow, did, timestamp)
PARTITION BY toYYYYMMDD(timestamp)
TTL timestamp + ` + retentionRule + ` DELETE`
}

// ModifyTTLDDL returns the statement that re-applies the retention TTL.
func ModifyTTLDDL(table, retentionRule string) string {
	return `ALTER TABLE ` + table + ` MODIFY TTL timestamp + ` + retentionRule + ` DELETE`
}

// Manager owns the analytics table definition.
type Manager struct {
	exec       Executor
	table      string
	retryDelay time.Duration
	ddlTimeout time.Duration
	logger     *slog.Logger
	ready      atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithDDLTimeout bounds each statement.
func WithDDLTimeout(d time.Duration) Option {
	return func(m *Manager) { m.ddlTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager for table.
func NewManager(exec Executor, table string, opts ...Option) *Manager {
	m := &Manager{
		exec:       exec,
		table:      table,
		retryDelay: DefaultRetryDelay,
		ddlTimeout: database.DefaultDDLTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logging.Component("schema"), logging.Table(table))
	return m
}

// EnsureTable creates the table when missing, then re-applies the TTL so a
// changed retention period takes effect on restart.
func (m *Manager) EnsureTable(ctx context.Context, retentionRule string) error {
	for _, stmt := range []string{
		CreateTableDDL(m.table, retentionRule),
		ModifyTTLDDL(m.table, retentionRule),
	} {
		if err := m.apply(ctx, stmt); err != nil {
			return err
		}
	}
	m.ready.Store(true)
	m.logger.Info("analytics table ready", slog.String("retention", retentionRule))
	return nil
}

func (m *Manager) apply(ctx context.Context, stmt string) error {
	ctx, cancel := database.TimeoutContext(ctx, m.ddlTimeout, database.DefaultDDLTimeout)
	defer cancel()
	if err := m.exec.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to apply schema to %s: %w", m.table, err)
	}
	return nil
}

// EnsureWithRetry calls EnsureTable until it succeeds, pausing a fixed delay
// after each failure. It only gives up when ctx is done.
func (m *Manager) EnsureWithRetry(ctx context.Context, retentionRule string) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(m.retryDelay), ctx)

	return backoff.RetryNotify(
		func() error { return m.EnsureTable(ctx, retentionRule) },
		b,
		func(err error, wait time.Duration) {
			metrics.SchemaEnsureFailures.Inc()
			m.logger.Error("failed to ensure analytics table, retrying",
				logging.Error(err),
				slog.Duration("retry_in", wait))
		},
	)
}

// Ready reports whether EnsureTable has succeeded at least once.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}
