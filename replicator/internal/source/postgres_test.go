package source

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flowlake/flowlake/migrations"
	"github.com/flowlake/flowlake/replicator/internal/models"
)

// setupTestSource starts PostgreSQL, applies the delta_files migration and
// returns a connected source.
func setupTestSource(t *testing.T) *PostgresSource {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("flowlake_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	_, err = migrations.ApplySource(connStr)
	require.NoError(t, err)

	src, err := NewPostgresSource(ctx, connStr, "delta_files", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(src.Close)

	return src
}

func fakeRecords(n int, base time.Time) []models.MutationRecord {
	faker := gofakeit.New(42)
	out := make([]models.MutationRecord, n)
	for i := range out {
		modified := base.Add(time.Duration(i/2) * time.Second)
		out[i] = models.MutationRecord{
			DID:          faker.UUID(),
			Flow:         faker.RandomString([]string{"smoke", "passthrough", "decompress"}),
			Created:      modified.Add(-time.Minute),
			Modified:     modified,
			IngressBytes: int64(faker.Number(0, 1<<20)),
			TotalBytes:   int64(faker.Number(0, 1<<22)),
			Errored:      faker.Bool(),
			Filtered:     faker.Bool(),
			Egressed:     faker.Bool(),
			Annotations:  map[string]string{"customer": faker.Company()},
		}
	}
	return out
}

func TestPostgresSource_Pagination(t *testing.T) {
	src := setupTestSource(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	recs := fakeRecords(9, base)
	n, err := src.CopyRecords(ctx, recs)
	require.NoError(t, err)
	require.Equal(t, int64(9), n)

	window := models.SyncWindow{Start: base, End: base.Add(time.Hour)}
	pages := src.Fetch(window, 4)

	var got []models.MutationRecord
	var sizes []int
	for {
		page, err := pages.Next(ctx)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		sizes = append(sizes, len(page))
		got = append(got, page...)
	}

	assert.Equal(t, []int{4, 4, 1}, sizes)
	require.Len(t, got, 9)
	for i := 1; i < len(got); i++ {
		assert.True(t, Less(got[i-1], got[i]), "records must be strictly ordered by (modified, did)")
	}
	assert.Equal(t, time.UTC, got[0].Modified.Location())
	assert.NotEmpty(t, got[0].Annotations["customer"])
}

func TestPostgresSource_WindowExcludesEnd(t *testing.T) {
	src := setupTestSource(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := base.Add(10 * time.Second)
	_, err := src.CopyRecords(ctx, []models.MutationRecord{
		{DID: "at-start", Flow: "f", Created: base, Modified: base},
		{DID: "at-end", Flow: "f", Created: end, Modified: end},
	})
	require.NoError(t, err)

	page, err := src.Fetch(models.SyncWindow{Start: base, End: end}, 10).Next(ctx)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "at-start", page[0].DID)
	assert.Nil(t, page[0].Annotations)
}

func TestPostgresSource_Ping(t *testing.T) {
	src := setupTestSource(t)
	assert.NoError(t, src.Ping(context.Background()))
}
