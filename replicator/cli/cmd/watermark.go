package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowlake/flowlake/replicator/cli/pkg/output"
	"github.com/flowlake/flowlake/replicator/internal/watermark"
)

var watermarkFinal bool

// watermarkInfo is what `flowctl watermark` reports.
type watermarkInfo struct {
	Table           string     `json:"table" yaml:"table"`
	Rows            uint64     `json:"rows" yaml:"rows"`
	LatestUpdate    *time.Time `json:"latest_update_timestamp,omitempty" yaml:"latest_update_timestamp,omitempty"`
	Watermark       time.Time  `json:"watermark" yaml:"watermark"`
	DeduplicatedRow *uint64    `json:"deduplicated_rows,omitempty" yaml:"deduplicated_rows,omitempty"`
}

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Show the watermark a replicator would resume from",
	Long: `Read the analytics table and report the watermark a starting replicator
would recover: the latest update_timestamp (or the default epoch on an empty
table) minus the one second safety offset.`,
	RunE: runWatermark,
}

func init() {
	rootCmd.AddCommand(watermarkCmd)
	watermarkCmd.Flags().BoolVar(&watermarkFinal, "final", false, "also count rows after de-duplication (SELECT ... FINAL)")
}

func runWatermark(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	epoch, err := cfg.Replicator.DefaultEpochTime()
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

	rows, latest, err := store.WatermarkStats(ctx)
	if err != nil {
		return err
	}

	tracker := watermark.NewTracker(store, epoch, watermark.WithReadTimeout(cfg.Replicator.ReadTimeout))
	wm, err := tracker.Initialize(ctx)
	if err != nil {
		return err
	}

	info := watermarkInfo{Table: cfg.Replicator.Table, Rows: rows, Watermark: wm}
	if rows > 0 {
		info.LatestUpdate = &latest
	}
	if watermarkFinal {
		n, err := store.CountFinal(ctx)
		if err != nil {
			return err
		}
		info.DeduplicatedRow = &n
	}

	return output.Render(format, info, func() { renderWatermark(info) })
}

func renderWatermark(info watermarkInfo) {
	table := output.NewTable([]string{"FIELD", "VALUE"})
	table.AddRow([]string{"table", info.Table})
	table.AddRow([]string{"rows", strconv.FormatUint(info.Rows, 10)})
	if info.LatestUpdate != nil {
		table.AddRow([]string{"latest update_timestamp", info.LatestUpdate.Format(time.RFC3339)})
	} else {
		table.AddRow([]string{"latest update_timestamp", "(empty table)"})
	}
	table.AddRow([]string{"watermark", info.Watermark.Format(time.RFC3339)})
	if info.DeduplicatedRow != nil {
		table.AddRow([]string{"rows (final)", strconv.FormatUint(*info.DeduplicatedRow, 10)})
	}
	table.Render()
}
