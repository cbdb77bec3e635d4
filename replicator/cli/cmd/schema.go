package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowlake/flowlake/replicator/cli/pkg/output"
	"github.com/flowlake/flowlake/replicator/internal/schema"
)

var schemaShowLive bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Analytics table schema commands",
}

var schemaApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create the analytics table and apply the retention TTL",
	Long: `Create the analytics table when it does not exist and re-apply the TTL
from replicator.retention_days. The replicator does the same on every start;
this command runs it once and reports the result.`,
	RunE: runSchemaApply,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the analytics table DDL",
	Long: `Print the CREATE TABLE statement the replicator applies.

With --live the statement is read back from ClickHouse instead.`,
	RunE: runSchemaShow,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaApplyCmd)
	schemaCmd.AddCommand(schemaShowCmd)

	schemaShowCmd.Flags().BoolVar(&schemaShowLive, "live", false, "read the DDL from ClickHouse")
}

func runSchemaApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rule := schema.RetentionRule(cfg.Replicator.RetentionDays)
	if err := schema.NewManager(store, cfg.Replicator.Table).EnsureTable(ctx, rule); err != nil {
		return err
	}

	output.Success("Analytics table %s ready (TTL timestamp + %s)", cfg.Replicator.Table, rule)
	return nil
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	if !schemaShowLive {
		fmt.Fprintln(output.Out, schema.CreateTableDDL(cfg.Replicator.Table, schema.RetentionRule(cfg.Replicator.RetentionDays)))
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	ddl, err := store.ShowCreateTable(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(output.Out, ddl)
	return nil
}
