package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowlake/flowlake/common/config"
	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/replicator/cli/pkg/output"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "flowlake replicator CLI",
	Long: `flowctl operates the flowlake replicator.

Apply and inspect the analytics table schema, read the replication
watermark, run sync cycles by hand, seed a development database and
follow progress events from your terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $FLOWLAKE_CONFIG_DIR/config.yaml)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json, yaml")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}

	// Library logs go to stderr so command output stays parseable.
	logging.SetDefault(logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), "text").
		With(logging.Service("flowctl")))
}

func outputFormat(cmd *cobra.Command) (output.Format, error) {
	f, _ := cmd.Flags().GetString("output")
	return output.ParseFormat(f)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
