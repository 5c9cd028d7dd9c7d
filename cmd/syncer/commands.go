package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"navigatum_sync/internal/adapters/observability"
	"navigatum_sync/internal/domain"
	"navigatum_sync/internal/shared"
	mysqlrepo "navigatum_sync/internal/storage/mysql"
)

const pushJob = "navigatum_sync"

func newRootCmd() *cobra.Command {
	var cfg shared.Config

	root := &cobra.Command{
		Use:           "syncer",
		Short:         "Synchronize navigation data from the CDN into MySQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := shared.Load()
			if err != nil {
				return err
			}
			cfg = c
			log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
			return nil
		},
	}
	root.AddCommand(newRunCmd(&cfg), newStatusCmd(&cfg), newMigrateCmd(&cfg))
	return root
}

func newRunCmd(cfg *shared.Config) *cobra.Command {
	var ifChanged bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the snapshot and upsert both language collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			reg := observability.InitRegistry()
			defer func() {
				if err := observability.Push(cfg.PushgatewayURL, pushJob, reg); err != nil {
					log.Warn().Err(err).Msg("metrics push failed")
				}
			}()

			d, err := newDeps(ctx, *cfg)
			if err != nil {
				log.Error().Err(err).Msg("startup failed")
				return err
			}
			defer d.close()

			if ifChanged {
				rep, err := d.statusService().Diff(ctx)
				if err != nil {
					log.Error().Err(err).Str("kind", domain.ErrorKind(err)).Msg("status check failed")
					return err
				}
				if !rep.HasChanges() {
					log.Info().Int("unchanged", len(rep.Unchanged)).Msg("upstream unchanged; skipping sync")
					return nil
				}
				log.Info().Int("changed", len(rep.Changed)).Int("added", len(rep.Added)).Msg("upstream changed")
			}

			svc, err := d.syncService(*cfg)
			if err != nil {
				return err
			}
			if _, err := svc.Run(ctx); err != nil {
				// another run is already doing the work
				if errors.Is(err, domain.ErrRunInProgress) {
					return nil
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ifChanged, "if-changed", false, "skip the run when the status snapshot shows no changes")
	return cmd
}

func newStatusCmd(cfg *shared.Config) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare upstream hashes with the stored ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
			d, err := newDeps(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer d.close()

			rep, err := d.statusService().Diff(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), rep, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format (table|json)")
	return cmd
}

func newMigrateCmd(cfg *shared.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context(), cfg.MySQLDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := mysqlrepo.Migrate(db); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}
