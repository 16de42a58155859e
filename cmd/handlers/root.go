package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"radar/internal/config"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "radar",
		Short: "Radar detects hot financial news events from RSS feeds",
		Long: `Radar scans financial news feeds, groups near-duplicate articles into
story clusters, scores how "hot" each story is for markets, and builds
a ranked briefing. High-scoring stories get a deep-research report;
the rest get a quick summary.`,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.radar.yaml)")

	rootCmd.AddCommand(NewScanCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewRunsCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}
