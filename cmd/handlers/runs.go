package handlers

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"radar/internal/config"
	"radar/internal/store"
)

// NewRunsCmd creates the runs command for inspecting run history
func NewRunsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List past pipeline runs or show one run",
		Long: `Inspect the local run history.

Without arguments, lists the most recent runs. With a run ID, prints
that run's full result.

Examples:
  # List recent runs
  radar runs

  # Show a specific run as JSON
  radar runs 6b1c9f2a-... --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runRuns(runID, limit, asJSON)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print output as JSON")

	return cmd
}

func runRuns(runID string, limit int, asJSON bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.NewStore(cfg.Store.Directory)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer st.Close()

	if runID != "" {
		result, err := st.GetRun(runID)
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}
		if result == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printRunResult(result)
		return nil
	}

	runs, err := st.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet. Run 'radar scan' first.")
		return nil
	}

	fmt.Printf("%-38s %-20s %8s %8s %8s\n", "RUN ID", "GENERATED", "WINDOW", "ARTICLES", "STORIES")
	for _, r := range runs {
		fmt.Printf("%-38s %-20s %7dh %8d %8d\n",
			r.ID, r.GeneratedAt.Local().Format("2006-01-02 15:04:05"),
			r.WindowHours, r.TotalArticles, r.StoryCount)
	}

	return nil
}
