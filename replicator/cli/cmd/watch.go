package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowlake/flowlake/common/messaging"
	"github.com/flowlake/flowlake/replicator/cli/pkg/output"

	natsclient "github.com/flowlake/flowlake/common/messaging/nats"
)

var watchSubject string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow replicator progress events",
	Long: `Subscribe to the replicator's NATS subjects and print watermark advances,
completed cycles and failed cycles as they happen.

Examples:
  # Everything
  flowctl watch

  # Only failures, as JSON lines
  flowctl watch --subject replicator.cycles.failed --output json`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchSubject, "subject", messaging.SubjectAll, "subject to subscribe to")
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	natsCfg := natsclient.DefaultConfig()
	natsCfg.Name = "flowctl-watch"
	natsCfg.URL = cfg.NATS.URL
	natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait

	client, err := natsclient.NewClient(natsCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var mu sync.Mutex
	sub, err := client.Subscribe(watchSubject, func(_ context.Context, msg *messaging.Message) error {
		mu.Lock()
		defer mu.Unlock()
		return printEvent(format, msg)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	output.Info("Watching %s on %s (Ctrl-C to stop)", watchSubject, cfg.NATS.URL)
	<-ctx.Done()
	return nil
}

func printEvent(format output.Format, msg *messaging.Message) error {
	if format != output.FormatTable {
		var v map[string]interface{}
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return fmt.Errorf("failed to decode %s event: %w", msg.Subject, err)
		}
		v["subject"] = msg.Subject
		if format == output.FormatYAML {
			return output.YAML(v)
		}
		return output.JSON(v)
	}

	switch msg.Subject {
	case messaging.SubjectWatermarkAdvanced:
		var evt messaging.WatermarkAdvancedEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return fmt.Errorf("failed to decode watermark event: %w", err)
		}
		output.Info("%s watermark %s -> %s (+%d rows)",
			evt.Table, evt.Previous.Format(time.RFC3339), evt.Watermark.Format(time.RFC3339), evt.Rows)
	case messaging.SubjectCycleCompleted:
		var evt messaging.CycleCompletedEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return fmt.Errorf("failed to decode cycle event: %w", err)
		}
		output.Success("%s cycle %s: %d rows in %d flushes, watermark %s (%dms)",
			evt.Table, evt.CycleID, evt.Rows, evt.Flushes, evt.WatermarkAfter.Format(time.RFC3339), evt.DurationMS)
	case messaging.SubjectCycleFailed:
		var evt messaging.CycleFailedEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return fmt.Errorf("failed to decode cycle event: %w", err)
		}
		output.Error("%s cycle %s failed after %d rows: %s (watermark %s)",
			evt.Table, evt.CycleID, evt.Rows, evt.Error, evt.Watermark.Format(time.RFC3339))
	default:
		output.Warn("%s: %s", msg.Subject, string(msg.Data))
	}
	return nil
}
