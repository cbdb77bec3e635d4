package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowlake/flowlake/common/database"
	"github.com/flowlake/flowlake/replicator/internal/models"
)

const recordColumns = `did, flow, created, modified, ingress_bytes, total_bytes,
	errored, filtered, egressed, annotations`

// PostgresSource reads delta files from PostgreSQL with keyset pagination.
type PostgresSource struct {
	pool        *pgxpool.Pool
	ident       pgx.Identifier
	table       string
	readTimeout time.Duration
}

// NewPostgresSource connects to connString and verifies the connection.
func NewPostgresSource(ctx context.Context, connString, table string, readTimeout time.Duration) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := database.QueryContext(ctx)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return NewPostgresSourceFromPool(pool, table, readTimeout), nil
}

// NewPostgresSourceFromPool wraps an existing pool.
func NewPostgresSourceFromPool(pool *pgxpool.Pool, table string, readTimeout time.Duration) *PostgresSource {
	ident := pgx.Identifier(strings.Split(table, "."))
	return &PostgresSource{
		pool:        pool,
		ident:       ident,
		table:       ident.Sanitize(),
		readTimeout: readTimeout,
	}
}

// Fetch implements Source.
func (s *PostgresSource) Fetch(window models.SyncWindow, limit int) *Pages {
	return NewPages(s, window, limit)
}

// QueryPage implements PageQuerier. The first page is bounded by the window
// alone; later pages continue strictly after the previous page's last
// (modified, did) pair.
func (s *PostgresSource) QueryPage(ctx context.Context, window models.SyncWindow, after *models.MutationRecord, limit int) ([]models.MutationRecord, error) {
	ctx, cancel := database.TimeoutContext(ctx, s.readTimeout, database.DefaultQueryTimeout)
	defer cancel()

	query, args := s.pageQuery(window, after, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delta files: %w", err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to read delta files: %w", err)
	}
	return records, nil
}

func (s *PostgresSource) pageQuery(window models.SyncWindow, after *models.MutationRecord, limit int) (string, []any) {
	if after == nil {
		return fmt.Sprintf(`SELECT %s FROM %s
		WHERE modified >= $1 AND modified < $2
		ORDER BY modified, did
		LIMIT $3`, recordColumns, s.table),
			[]any{window.Start, window.End, limit}
	}
	return fmt.Sprintf(`SELECT %s FROM %s
		WHERE modified >= $1 AND modified < $2
		  AND (modified, did) > ($3, $4)
		ORDER BY modified, did
		LIMIT $5`, recordColumns, s.table),
		[]any{window.Start, window.End, after.Modified, after.DID, limit}
}

func scanRecord(row pgx.CollectableRow) (models.MutationRecord, error) {
	var r models.MutationRecord
	err := row.Scan(
		&r.DID,
		&r.Flow,
		&r.Created,
		&r.Modified,
		&r.IngressBytes,
		&r.TotalBytes,
		&r.Errored,
		&r.Filtered,
		&r.Egressed,
		&r.Annotations,
	)
	r.Created = r.Created.UTC()
	r.Modified = r.Modified.UTC()
	return r, err
}

// CopyRecords bulk-loads records with COPY. It backs flowctl seed and tests;
// the replicator itself never writes to the operational store.
func (s *PostgresSource) CopyRecords(ctx context.Context, records []models.MutationRecord) (int64, error) {
	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.DID, r.Flow, r.Created, r.Modified, r.IngressBytes, r.TotalBytes,
			r.Errored, r.Filtered, r.Egressed, r.Annotations}
	}

	columns := []string{"did", "flow", "created", "modified", "ingress_bytes", "total_bytes",
		"errored", "filtered", "egressed", "annotations"}

	n, err := s.pool.CopyFrom(ctx, s.ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy delta files: %w", err)
	}
	return n, nil
}

// Ping checks database connectivity
func (s *PostgresSource) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PostgresSource) Close() {
	s.pool.Close()
}
