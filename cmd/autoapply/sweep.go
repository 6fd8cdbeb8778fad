package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autoapply/autoapply/internal/automation"
	"github.com/autoapply/autoapply/internal/db"
)

var sweepConfigPath string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired screenshot directories",
	Long:  `Run one retention sweep: delete screenshot directories of terminal runs older than the configured retention window.`,
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepConfigPath, "config", "", "Path to JSON config file")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	serveConfigPath = sweepConfigPath
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	artifacts := automation.NewArtifactStore(cfg.ScreenshotDir, database)
	removed, err := artifacts.Sweep(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired screenshot director(ies)\n", removed)
	return nil
}
