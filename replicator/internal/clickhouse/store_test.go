package clickhouse

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/flowlake/flowlake/replicator/internal/models"
	"github.com/flowlake/flowlake/replicator/internal/schema"
)

const testTable = "deltafile_analytics"

// setupTestStore starts ClickHouse, creates the analytics table and returns
// a connected store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ClickHouse integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.8-alpine",
		tcclickhouse.WithUsername("test"),
		tcclickhouse.WithPassword("test"),
		tcclickhouse.WithDatabase("flowlake_test"),
	)
	if err != nil {
		t.Skipf("ClickHouse container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.ConnectionHost(ctx)
	require.NoError(t, err)

	store, err := Open(ctx, Config{
		Addr:         []string{host},
		Database:     "flowlake_test",
		Username:     "test",
		Password:     "test",
		DialTimeout:  5 * time.Second,
		MaxOpenConns: 2,
		Table:        testTable,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Exec(ctx, schema.CreateTableDDL(testTable, schema.RetentionRule(3650))))
	return store
}

func TestStore_EmptyTableWatermark(t *testing.T) {
	store := setupTestStore(t)

	rows, latest, err := store.WatermarkStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.True(t, latest.IsZero())
}

func TestStore_InsertAndDeduplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rows := []models.AnalyticsRow{
		{Timestamp: now, UpdateTimestamp: now.Add(time.Minute), Flow: "smoke", DID: "a", Files: 1, Annotations: map[string]string{"k": "v"}},
		{Timestamp: now, UpdateTimestamp: now.Add(2 * time.Minute), Flow: "smoke", DID: "b", Files: 1, Errored: 1},
	}

	require.NoError(t, store.InsertRows(ctx, rows))
	// Redelivery of the same rows is absorbed by ReplacingMergeTree.
	require.NoError(t, store.InsertRows(ctx, rows))

	count, latest, err := store.WatermarkStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count)
	assert.Equal(t, now.Add(2*time.Minute), latest)

	distinct, err := store.CountFinal(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), distinct)
}

func TestStore_InsertEmpty(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.InsertRows(context.Background(), nil))
}

func TestStore_ShowCreateTable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Exec(ctx, schema.ModifyTTLDDL(testTable, schema.RetentionRule(14))))

	ddl, err := store.ShowCreateTable(ctx)
	require.NoError(t, err)
	assert.Contains(t, ddl, "ReplacingMergeTree")
	assert.Contains(t, ddl, "toIntervalDay(14)")
}

// rejectingConn hands out batches that refuse every row.
type rejectingConn struct {
	driver.Conn
	batch *rejectingBatch
}

func (c *rejectingConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	return c.batch, nil
}

type rejectingBatch struct {
	driver.Batch
	aborted bool
}

func (b *rejectingBatch) AppendStruct(v any) error {
	return errors.New("clickhouse [AppendRow]: converting String to UInt64 is unsupported")
}

func (b *rejectingBatch) Abort() error {
	b.aborted = true
	return nil
}

func TestStore_InsertRowsRejectedRow(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	batch := &rejectingBatch{}
	store := New(&rejectingConn{batch: batch}, testTable, logger)

	err := store.InsertRows(context.Background(), []models.AnalyticsRow{{Flow: "smoke", DID: "did-7"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append row did-7")
	assert.True(t, batch.aborted)

	out := buf.String()
	assert.Contains(t, out, `"flow":"smoke"`)
	assert.Contains(t, out, `"did":"did-7"`)
	assert.Contains(t, out, `"table":"deltafile_analytics"`)
}
