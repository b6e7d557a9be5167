package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/config"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/logger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage/postgres"
)

var Version = "dev"

var errInconsistent = errors.New("ledger is inconsistent")

func main() {
	var envFile string
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the crowdfunding ledger database",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional .env file")

	rootCmd.AddCommand(migrateCmd(&envFile))
	rootCmd.AddCommand(checkCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, envFile string) (*postgres.PostgresLedgerStore, func(), config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, config.Config{}, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, cfg, errors.New("database.url is required (CROWDFUND_DATABASE_URL)")
	}
	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, cfg, err
	}
	return postgres.NewPostgresLedgerStore(db, cfg.Database.TxRetries), func() { db.Close() }, cfg, nil
}

func migrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeDB, _, err := openStore(ctx, *envFile)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func checkCmd(envFile *string) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify project funding totals and account balances against the ledger",
		Long: `Recompute every project's current funding from its active funding records
and every account balance from the ledger. Prints a JSON report and exits
non-zero when anything diverges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeDB, cfg, err := openStore(ctx, *envFile)
			if err != nil {
				return err
			}
			defer closeDB()

			log, err := logger.NewLogger(cfg.HTTP.Mode)
			if err != nil {
				return err
			}
			defer log.Sync()
			engine := ledger.NewEngine(store, nil, log, nil)

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")

			if projectID != "" {
				divergence, err := engine.CheckProject(ctx, projectID)
				if err != nil {
					return err
				}
				if divergence == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "project %s is consistent\n", projectID)
					return nil
				}
				if err := out.Encode(divergence); err != nil {
					return err
				}
				return errInconsistent
			}

			report, err := engine.CheckConsistency(ctx)
			if err != nil {
				return err
			}
			if err := out.Encode(report); err != nil {
				return err
			}
			if !report.Consistent() {
				log.Error("consistency check failed",
					zap.Int("projects", len(report.Projects)),
					zap.Int("accounts", len(report.Accounts)),
				)
				return errInconsistent
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "check a single project")
	return cmd
}
