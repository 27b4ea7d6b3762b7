package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ironlayerd",
	Short: "IronLayer - deterministic deployment plans for SQL transformation repos",
	Long: `IronLayer is a control plane that turns versioned SQL transformation
repositories into deterministic, cost-annotated execution plans, and
governs how those plans get approved, applied, and audited.

Plans are derived from the diff between two repository revisions;
identical inputs always produce the identical plan.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"IronLayer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}
