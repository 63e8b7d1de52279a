package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/domotic-core/internal/automation"
	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
	"github.com/nerrad567/domotic-core/internal/infrastructure/database"
	"github.com/nerrad567/domotic-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/domotic-core/migrations"
)

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the service.
func newRootCmd() *cobra.Command {
	var configFlag, logLevel string

	root := &cobra.Command{
		Use:   "domotic",
		Short: "Domotic Core - remote control and schedules for MQTT smart outlets",
		Long: `Domotic Core keeps a session to an MQTT broker, mirrors the state of the
configured outlets, switches them on daily time-of-day schedules and exposes
an HTTP and WebSocket API for user interfaces.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configFlag), withLogLevel(logLevel))
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to the YAML configuration file (default "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the core service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configFlag), withLogLevel(logLevel))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "domotic %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	schedules := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect stored schedules",
	}
	schedules.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listSchedules(cmd.Context(), getConfigPath(configFlag), cmd.OutOrStdout())
		},
	})
	root.AddCommand(schedules)

	migrate := &cobra.Command{
		Use:   "migrations",
		Short: "Inspect the database schema",
	}
	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrationStatus(cmd.Context(), getConfigPath(configFlag), cmd.OutOrStdout())
		},
	})
	root.AddCommand(migrate)

	return root
}

// migrationStatus prints the schema version table without applying anything.
func migrationStatus(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	applied, pending, err := db.GetMigrationStatus(ctx, migrations.FS)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, m := range applied {
		fmt.Fprintf(tw, "%s\t%s\tapplied\t%s\n", m.Version, m.Name, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\t%s\tpending\t-\n", m.Version, m.Name)
	}
	return tw.Flush()
}

// listSchedules prints the stored schedules without starting the service.
func listSchedules(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	catalog, err := device.CatalogFromConfig(cfg.Devices)
	if err != nil {
		return fmt.Errorf("building device catalog: %w", err)
	}

	store := automation.NewStore(automation.NewKVRepository(kvstore.New(db)), catalog)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tWINDOW\tACTION\tENABLED")
	for _, s := range store.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", s.ID, s.Target, s.Window(), s.Action, s.Enabled)
	}
	return tw.Flush()
}
