package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/pet-mail-ingest/internal/app"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := repo.AutoMigrate(db); err != nil {
			return err
		}
		log.Info().Str("driver", cfg.DB.Driver).Msg("schema up to date")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-stale",
	Short: "Report ledger entries stuck in processing",
	Long: `Lists ledger entries that have been processing longer than
STALE_LOCK_THRESHOLD. Nothing is modified; stuck entries are logged so an
operator can decide whether to retry the email.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.StaleSweeper().SweepOnce(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("%d stale ledger entries\n", n)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <approval-id>",
	Short: "Approve a held email and run it through the pipeline",
	Long: `Approves a pending approval on behalf of its owner: the held email is
loaded from storage, ingested as if the sender were known, and the sender is
added to the pet's care contacts. A failed replay leaves the approval pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ingester.Approvals.Approve(cmd.Context(), "", args[0])
		if err != nil {
			return fmt.Errorf("replay %s: %w", args[0], err)
		}
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a held email and block its sender for the pet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Ingester.Approvals.Reject(cmd.Context(), "", args[0]); err != nil {
			return fmt.Errorf("reject %s: %w", args[0], err)
		}
		cmd.Printf("rejected %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, sweepCmd, replayCmd, rejectCmd)
}
