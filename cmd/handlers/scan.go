package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"radar/internal/config"
	"radar/internal/core"
	"radar/internal/logger"
	"radar/internal/store"
)

// NewScanCmd creates the scan command for a one-shot pipeline run
func NewScanCmd() *cobra.Command {
	var (
		windowHours int
		topK        int
		threshold   float64
		feeds       []string
		asJSON      bool
		noSave      bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the hot-news detection pipeline once",
		Long: `Collect recent financial news, cluster near-duplicates, score each
cluster for hotness, and build a ranked list of stories. Hot clusters get
a deep-research report; the rest get a quick summary.

Examples:
  # Scan the last 24 hours
  radar scan

  # Scan a wider window and keep more stories
  radar scan --window 48 --top 20

  # Machine-readable output
  radar scan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), scanOptions{
				windowHours: windowHours,
				topK:        topK,
				threshold:   threshold,
				feeds:       feeds,
				asJSON:      asJSON,
				noSave:      noSave,
			})
		},
	}

	cmd.Flags().IntVar(&windowHours, "window", 0, "Collection window in hours (default from config: 24)")
	cmd.Flags().IntVar(&topK, "top", 0, "Number of stories to keep (default from config: 10)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Hotness threshold for deep research (default from config: 0.6)")
	cmd.Flags().StringSliceVar(&feeds, "feeds", nil, "Feed URLs to scan instead of the configured list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full run result as JSON")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not persist the run to the local store")

	return cmd
}

type scanOptions struct {
	windowHours int
	topK        int
	threshold   float64
	feeds       []string
	asJSON      bool
	noSave      bool
}

func runScan(ctx context.Context, opts scanOptions) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.windowHours > 0 {
		cfg.Radar.WindowHours = opts.windowHours
	}
	if opts.topK > 0 {
		cfg.Radar.TopK = opts.topK
	}
	if opts.threshold > 0 {
		if opts.threshold > 1 {
			return fmt.Errorf("threshold must be in [0,1], got %f", opts.threshold)
		}
		cfg.Radar.HotnessThreshold = opts.threshold
	}
	if len(opts.feeds) > 0 {
		cfg.Feeds.URLs = opts.feeds
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	log.Info("Starting scan", "window_hours", cfg.Radar.WindowHours, "feeds", len(cfg.Feeds.URLs))

	result, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	if !opts.noSave {
		st, err := store.NewStore(cfg.Store.Directory)
		if err != nil {
			log.Warn("Failed to open run store, result not persisted", "error", err.Error())
		} else {
			defer st.Close()
			runID, err := st.SaveRun(result)
			if err != nil {
				log.Warn("Failed to persist run", "error", err.Error())
			} else {
				log.Info("Run persisted", "run_id", runID)
				if err := st.PruneRuns(cfg.Store.KeepRuns); err != nil {
					log.Warn("Failed to prune old runs", "error", err.Error())
				}
			}
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printRunResult(result)
	return nil
}

func printRunResult(result *core.RunResult) {
	fmt.Printf("Processed %d articles over the last %dh in %.1fs\n",
		result.TotalArticlesProcessed, result.TimeWindowHours, result.ProcessingTime)
	if result.DedupDegraded {
		fmt.Println("Warning: embeddings were unavailable, clustering ran degraded")
	}
	if len(result.Stories) == 0 {
		fmt.Println("No stories in this window.")
		return
	}

	fmt.Printf("\nTop %d stories:\n\n", len(result.Stories))
	for i, s := range result.Stories {
		marker := " "
		if s.HasDeepResearch {
			marker = "*"
		}
		fmt.Printf("%2d.%s [%.2f] %s\n", i+1, marker, s.Hotness.Overall, s.Headline)
		if s.WhyNow != "" {
			fmt.Printf("      %s\n", s.WhyNow)
		}
		fmt.Printf("      %d articles", s.ArticleCount)
		if names := entityNames(s.Entities, 5); names != "" {
			fmt.Printf(" | %s", names)
		}
		fmt.Println()
	}
	fmt.Println("\n(* = deep research)")
}

func entityNames(entities []core.Entity, max int) string {
	if len(entities) == 0 {
		return ""
	}
	if len(entities) > max {
		entities = entities[:max]
	}
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return strings.Join(names, ", ")
}
