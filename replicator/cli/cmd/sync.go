package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/replicator/cli/pkg/output"
	"github.com/flowlake/flowlake/replicator/internal/clickhouse"
	"github.com/flowlake/flowlake/replicator/internal/lease"
	"github.com/flowlake/flowlake/replicator/internal/scheduler"
	"github.com/flowlake/flowlake/replicator/internal/schema"
	"github.com/flowlake/flowlake/replicator/internal/service"
	"github.com/flowlake/flowlake/replicator/internal/source"
	"github.com/flowlake/flowlake/replicator/internal/watermark"
	"github.com/flowlake/flowlake/replicator/internal/writer"
)

var syncOnce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run sync cycles in the foreground",
	Long: `Replicate from the operational store into the analytics table.

With --once a single cycle runs and its result is printed. Without it the
scheduler runs until interrupted, exactly as the replicator daemon would
(without the admin server).`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "run a single sync cycle and exit")
}

func runSync(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	rule := schema.RetentionRule(cfg.Replicator.RetentionDays)
	if err := schema.NewManager(store, cfg.Replicator.Table).EnsureTable(ctx, rule); err != nil {
		return err
	}

	cycleLease, err := openLease()
	if err != nil {
		return err
	}
	defer cycleLease.Close()

	replicator, err := newReplicator(store, src, cycleLease)
	if err != nil {
		return err
	}

	if !syncOnce {
		sched := scheduler.NewScheduler(replicator, scheduler.Config{
			Interval:   cfg.Replicator.SyncInterval,
			RetryDelay: cfg.Replicator.SupervisorRetryDelay,
		}, logging.Default())
		output.Info("Syncing %s -> %s every %s (Ctrl-C to stop)",
			cfg.Source.Table, cfg.Replicator.Table, cfg.Replicator.SyncInterval)
		if err := sched.Run(ctx); err != nil {
			return err
		}
		output.Success("Stopped at watermark %s", replicator.Watermark().Format(time.RFC3339))
		return nil
	}

	res, err := replicator.SyncOnce(ctx)
	if err != nil {
		return err
	}
	return output.Render(format, res, func() { renderCycle(res) })
}

func openLease() (lease.Lease, error) {
	if !cfg.Redis.Enabled {
		return lease.NoopLease{}, nil
	}
	return lease.NewRedisLease(cfg.Redis.URL, lease.Key(cfg.Replicator.Table), cfg.Redis.LeaseTTL)
}

func newReplicator(store *clickhouse.Store, src source.Source, cycleLease lease.Lease) (*service.Replicator, error) {
	epoch, err := cfg.Replicator.DefaultEpochTime()
	if err != nil {
		return nil, err
	}

	logger := logging.Default()
	tracker := watermark.NewTracker(store, epoch,
		watermark.WithStrict(cfg.Replicator.StrictWatermark),
		watermark.WithReadTimeout(cfg.Replicator.ReadTimeout),
		watermark.WithLogger(logger.Logger),
	)
	batchWriter := writer.New(store, cfg.Replicator.BatchLimit,
		writer.WithTimeout(cfg.Replicator.WriteTimeout),
		writer.WithLogger(logger.Logger),
	)

	opts := []service.Option{service.WithLogger(logger)}
	if _, noop := cycleLease.(lease.NoopLease); !noop {
		opts = append(opts, service.WithLease(cycleLease))
	}

	return service.New(service.Config{
		Table:        cfg.Replicator.Table,
		Lag:          cfg.Replicator.Lag,
		BatchLimit:   cfg.Replicator.BatchLimit,
		FlushRetries: cfg.Replicator.FlushRetries,
	}, src, batchWriter, tracker, opts...), nil
}

func renderCycle(res *service.CycleResult) {
	switch {
	case res.Skipped:
		output.Warn("Cycle %s skipped: lease held by another replica", res.CycleID)
		return
	case res.Empty:
		output.Info("Cycle %s: window %s is empty, nothing to do", res.CycleID, res.Window)
		return
	}

	table := output.NewTable([]string{"FIELD", "VALUE"})
	table.AddRow([]string{"cycle", res.CycleID})
	table.AddRow([]string{"window", res.Window.String()})
	table.AddRow([]string{"pages", strconv.Itoa(res.Pages)})
	table.AddRow([]string{"rows", strconv.Itoa(res.Rows)})
	table.AddRow([]string{"flushes", strconv.Itoa(res.Flushes)})
	table.AddRow([]string{"watermark before", res.WatermarkBefore.Format(time.RFC3339)})
	table.AddRow([]string{"watermark after", res.WatermarkAfter.Format(time.RFC3339)})
	table.AddRow([]string{"duration", res.Duration.Round(time.Millisecond).String()})
	table.Render()
}
