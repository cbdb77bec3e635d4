package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowlake/flowlake/replicator/internal/clickhouse"
	"github.com/flowlake/flowlake/replicator/internal/source"
)

func openStore(ctx context.Context) (*clickhouse.Store, error) {
	store, err := clickhouse.Open(ctx, clickhouse.Config{
		Addr:         cfg.ClickHouse.Addr,
		Database:     cfg.ClickHouse.Database,
		Username:     cfg.ClickHouse.Username,
		Password:     cfg.ClickHouse.Password,
		DialTimeout:  cfg.ClickHouse.DialTimeout,
		MaxOpenConns: cfg.ClickHouse.MaxOpenConns,
		Debug:        cfg.ClickHouse.Debug,
		Table:        cfg.Replicator.Table,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse at %v: %w", cfg.ClickHouse.Addr, err)
	}
	return store, nil
}

func openSource(ctx context.Context) (*source.PostgresSource, error) {
	src, err := source.NewPostgresSource(ctx, cfg.Source.Postgres.ConnString(), cfg.Source.Table, cfg.Replicator.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres at %s:%d: %w",
			cfg.Source.Postgres.Host, cfg.Source.Postgres.Port, err)
	}
	return src, nil
}
