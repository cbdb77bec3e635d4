// Package clickhouse is the analytics table client: batch inserts, DDL and
// the aggregate reads the watermark is derived from.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/flowlake/flowlake/common/database"
	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/replicator/internal/models"
)

// Config holds connection settings for the analytics store.
type Config struct {
	Addr         []string
	Database     string
	Username     string
	Password     string
	DialTimeout  time.Duration
	MaxOpenConns int
	Debug        bool

	// Table is the analytics table rows are inserted into.
	Table string
}

// Store reads and writes the analytics table.
type Store struct {
	conn   driver.Conn
	table  string
	logger *slog.Logger
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chLogger := logger.With(logging.Component("clickhouse"))

	conn, err := ch.Open(&ch.Options{
		Addr: cfg.Addr,
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		Debug:        cfg.Debug,
		Debugf: func(format string, v ...any) {
			chLogger.Debug(fmt.Sprintf(format, v...))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	pingCtx, cancel := database.QueryContext(ctx)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return New(conn, cfg.Table, logger), nil
}

// New wraps an existing connection. A nil logger uses the default logger.
func New(conn driver.Conn, table string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conn:   conn,
		table:  table,
		logger: logger.With(logging.Component("clickhouse"), logging.Table(table)),
	}
}

// Table returns the analytics table name.
func (s *Store) Table() string {
	return s.table
}

// Exec runs a statement that returns no rows (DDL).
func (s *Store) Exec(ctx context.Context, query string) error {
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// InsertRows writes rows in one native-protocol batch. Either the whole
// batch is acknowledged or an error is returned.
func (s *Store) InsertRows(ctx context.Context, rows []models.AnalyticsRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			s.logger.ErrorContext(ctx, "row rejected by batch",
				logging.Flow(rows[i].Flow),
				logging.DID(rows[i].DID),
				logging.Error(err))
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %s: %w", rows[i].DID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch of %d rows: %w", len(rows), err)
	}
	return nil
}

// WatermarkStats returns the row count and the latest update_timestamp of
// the analytics table. On an empty table latest is the zero time.
func (s *Store) WatermarkStats(ctx context.Context) (rows uint64, latest time.Time, err error) {
	query := fmt.Sprintf("SELECT count(), max(update_timestamp) FROM %s", s.table)
	if err := s.conn.QueryRow(ctx, query).Scan(&rows, &latest); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read watermark from %s: %w", s.table, err)
	}
	if rows == 0 {
		return 0, time.Time{}, nil
	}
	return rows, latest.UTC(), nil
}

// CountFinal returns the number of distinct rows after ReplacingMergeTree
// de-duplication.
func (s *Store) CountFinal(ctx context.Context) (uint64, error) {
	var n uint64
	query := fmt.Sprintf("SELECT count() FROM %s FINAL", s.table)
	if err := s.conn.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", s.table, err)
	}
	return n, nil
}

// ShowCreateTable returns the server's rendering of the table definition.
func (s *Store) ShowCreateTable(ctx context.Context) (string, error) {
	var ddl string
	if err := s.conn.QueryRow(ctx, "SHOW CREATE TABLE "+s.table).Scan(&ddl); err != nil {
		return "", fmt.Errorf("failed to show table %s: %w", s.table, err)
	}
	return ddl, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return s.conn.Ping(ctx)
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
