package handlers

import (
	"context"
	"fmt"
	"time"

	"radar/internal/collect"
	"radar/internal/config"
	"radar/internal/dedup"
	"radar/internal/hotness"
	"radar/internal/llm"
	"radar/internal/logger"
	"radar/internal/pipeline"
	"radar/internal/research"
	"radar/internal/search"
	"radar/internal/story"
)

// buildPipeline assembles a fully wired pipeline from configuration. Both
// scan and serve share this.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, error) {
	log := logger.Get()

	client, err := llm.NewClient(ctx, cfg.AI.Gemini.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	retryAttempts := cfg.Radar.RetryAttempts
	retryDelay := config.Duration(cfg.Radar.RetryBaseDelay, 500*time.Millisecond)

	collector := collect.NewCollector(
		collect.WithUserAgent(cfg.Feeds.UserAgent),
		collect.WithConcurrency(cfg.Feeds.Concurrency),
		collect.WithFeedTimeout(config.Duration(cfg.Feeds.Timeout, 30*time.Second)),
	)

	clusterer := dedup.NewDeduplicator(client, cfg.Radar.SimilarityThreshold, cfg.Radar.EmbedConcurrency)

	var scorerOpts []hotness.ScorerOption
	if cfg.Radar.PreferOracleOverall {
		scorerOpts = append(scorerOpts, hotness.WithOracleOverall())
	}
	scorer := hotness.NewScorer(
		pipeline.ScoringOracleWithRetry(client, retryAttempts, retryDelay),
		scorerOpts...,
	)

	researcher := buildResearcher(cfg, client, retryAttempts, retryDelay)
	if researcher == nil {
		log.Warn("Deep research disabled, every story takes the summary path")
	}

	builder := story.NewBuilder(client, researcher, cfg.Research.MaxSources)

	pipeConfig := &pipeline.Config{
		FeedURLs:           cfg.Feeds.URLs,
		WindowHours:        cfg.Radar.WindowHours,
		TopK:               cfg.Radar.TopK,
		HotnessThreshold:   cfg.Radar.HotnessThreshold,
		ScoringConcurrency: cfg.Radar.ScoringConcurrency,
		BuildConcurrency:   cfg.Research.Concurrency,
		RunTimeout:         config.Duration(cfg.Radar.RunTimeout, 5*time.Minute),
	}

	return pipeline.New(collector, clusterer, scorer, builder, pipeConfig), nil
}

// buildResearcher wires the deep-research path, or returns nil when it is
// disabled or no search provider is usable.
func buildResearcher(cfg *config.Config, client *llm.Client, retryAttempts int, retryDelay time.Duration) story.ResearchOracle {
	if !cfg.Research.Enabled {
		return nil
	}

	providerConfig := map[string]string{}
	if cfg.Search.Provider == string(search.ProviderTypeTavily) {
		providerConfig["api_key"] = cfg.Search.Tavily.APIKey
	}

	provider, err := search.NewProvider(search.ProviderType(cfg.Search.Provider), providerConfig)
	if err != nil {
		logger.Warn("Search provider unavailable", "provider", cfg.Search.Provider, "error", err.Error())
		return nil
	}

	engine := research.NewEngine(client, provider, client,
		research.WithTimeout(config.Duration(cfg.Research.Timeout, 90*time.Second)),
		research.WithConcurrency(cfg.Research.Concurrency),
	)

	return pipeline.ResearchOracleWithRetry(engine, retryAttempts, retryDelay)
}
