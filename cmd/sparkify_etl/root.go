package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/multitable"
)

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		cfg     *config.Config
	)

	root := &cobra.Command{
		Use:   "sparkify_etl",
		Short: "Load song catalog and activity logs into the songplay star schema",
		Long: "Walks the song catalog directory and then the activity log directory, " +
			"loading every JSON-lines file in its own transaction.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = c

			if err := config.InitLogger(cfg.Log); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			closeMetrics := setupMetrics(cmd.Context(), cfg.Metrics)
			defer closeMetrics()

			if err := multitable.NewDefaultRunner().Run(cmd.Context(), cfg); err != nil {
				zap.L().Error("load failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "config file (default ./sparkify.yaml if present)")
	pf.String("storage-kind", "", "storage backend: postgres, sqlite or mssql")
	pf.String("dsn", "", "storage connection string")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (json or console)")

	f := root.Flags()
	f.String("song-dir", "", "root directory of song catalog files")
	f.String("log-dir", "", "root directory of activity log files")
	f.String("pattern", "", "file name glob (default *.json)")
	f.Bool("ensure-schema", true, "create the star schema tables before loading")
	f.String("metrics", "", "metrics backend: none or datadog")

	root.AddCommand(newValidateCmd(&cfg), newSchemaCmd(&cfg))
	return root
}

func newValidateCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*cfg).Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (storage.kind=%s)\n", (*cfg).Storage.Kind)
			return nil
		},
	}
}

func newSchemaCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the star schema tables and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return multitable.NewDefaultRunner().EnsureSchema(cmd.Context(), *cfg)
		},
	}
}
