package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autoapply/autoapply/internal/db"
)

var (
	runsConfigPath string
	runsType       string
	runsStatus     string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent automation runs",
	Long:  `Print the most recent automation runs, optionally filtered by type or status.`,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsConfigPath, "config", "", "Path to JSON config file")
	runsCmd.Flags().StringVar(&runsType, "type", "", "Filter by run type (job_apply, scrape, email)")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (pending, running, success, error)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	serveConfigPath = runsConfigPath
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if runsType != "" && !db.IsRunType(runsType) {
		return fmt.Errorf("unknown run type: %s", runsType)
	}
	if runsStatus != "" && !db.IsRunStatus(runsStatus) {
		return fmt.Errorf("unknown run status: %s", runsStatus)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	runs, err := database.ListRuns(ctx, db.RunFilters{RunType: runsType, Status: runsStatus})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED")
	for _, run := range runs {
		progress := "-"
		if run.Progress != nil {
			progress = fmt.Sprintf("%d%%", *run.Progress)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.RunType, run.Status, progress, run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
