// Package main provides the entry point for the AutoApply automation service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autoapply",
	Short: "AutoApply automation service",
	Long:  "AutoApply runs validated browser automation jobs (job applications, recruiter email replies) through an external worker, with durable run history and live progress streaming.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
