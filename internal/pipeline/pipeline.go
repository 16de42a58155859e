// Package pipeline orchestrates the end-to-end scan: collect, deduplicate,
// score, route, build, rank.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"radar/internal/core"
	"radar/internal/dedup"
	"radar/internal/hotness"
	"radar/internal/logger"
	"radar/internal/story"
)

// Collector gathers recent articles from the configured feeds.
type Collector interface {
	Collect(ctx context.Context, feedURLs []string, window time.Duration) ([]core.Article, error)
}

// Clusterer groups articles into near-duplicate clusters.
type Clusterer interface {
	Cluster(ctx context.Context, articles []core.Article) (*dedup.Result, error)
}

// ClusterScorer judges the hotness of one cluster. It never fails; oracle
// failures surface as the zero fallback score.
type ClusterScorer interface {
	Score(ctx context.Context, cluster core.Cluster) core.HotnessScore
}

// StoryBuilder builds exactly one story per routed cluster.
type StoryBuilder interface {
	Build(ctx context.Context, routed story.Routed) core.Story
}

// Stage identifies the pipeline's progress through one run.
type Stage string

const (
	StageCollecting Stage = "collecting"
	StageDeduping   Stage = "deduping"
	StageScoring    Stage = "scoring"
	StageRouting    Stage = "routing"
	StageBuilding   Stage = "building"
	StageRanking    Stage = "ranking"
	StageDone       Stage = "done"
)

// Config holds pipeline configuration
type Config struct {
	FeedURLs           []string
	WindowHours        int
	TopK               int
	HotnessThreshold   float64
	ScoringConcurrency int
	BuildConcurrency   int
	RunTimeout         time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		WindowHours:        24,
		TopK:               10,
		HotnessThreshold:   0.6,
		ScoringConcurrency: 3,
		BuildConcurrency:   2,
		RunTimeout:         5 * time.Minute,
	}
}

// Pipeline coordinates one scan from raw feeds to ranked stories.
type Pipeline struct {
	collector Collector
	clusterer Clusterer
	scorer    ClusterScorer
	builder   StoryBuilder
	config    *Config
	log       *slog.Logger

	mu         sync.RWMutex
	stage      Stage
	lastResult *core.RunResult
}

// New creates a pipeline with all dependencies. Concurrency values below 1
// are clamped to 1 so a misconfigured limit cannot stall the worker groups.
func New(collector Collector, clusterer Clusterer, scorer ClusterScorer, builder StoryBuilder, config *Config) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ScoringConcurrency < 1 {
		config.ScoringConcurrency = 1
	}
	if config.BuildConcurrency < 1 {
		config.BuildConcurrency = 1
	}
	return &Pipeline{
		collector: collector,
		clusterer: clusterer,
		scorer:    scorer,
		builder:   builder,
		config:    config,
		log:       logger.Get(),
		stage:     StageDone,
	}
}

// Stage returns the stage the pipeline is currently in.
func (p *Pipeline) Stage() Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stage
}

// LastResult returns the most recently completed run, or nil before the
// first run finishes.
func (p *Pipeline) LastResult() *core.RunResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResult
}

func (p *Pipeline) setStage(s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
	p.log.Info("Pipeline stage", "stage", string(s))
}

// Overrides carries per-run parameter overrides. Zero-value fields keep the
// configured value.
type Overrides struct {
	WindowHours      int
	TopK             int
	HotnessThreshold *float64
	FeedURLs         []string
}

// effectiveConfig copies the pipeline config and applies per-run overrides.
func (p *Pipeline) effectiveConfig(ov *Overrides) Config {
	cfg := *p.config
	if ov == nil {
		return cfg
	}
	if ov.WindowHours > 0 {
		cfg.WindowHours = ov.WindowHours
	}
	if ov.TopK > 0 {
		cfg.TopK = ov.TopK
	}
	if ov.HotnessThreshold != nil {
		cfg.HotnessThreshold = *ov.HotnessThreshold
	}
	if len(ov.FeedURLs) > 0 {
		cfg.FeedURLs = ov.FeedURLs
	}
	return cfg
}

// Run executes one full scan with the configured parameters.
func (p *Pipeline) Run(ctx context.Context) (*core.RunResult, error) {
	return p.RunWithOverrides(ctx, nil)
}

// RunWithOverrides executes one full scan. A run always produces a RunResult
// unless article collection itself fails; downstream oracle failures degrade
// individual stories instead of aborting the batch.
func (p *Pipeline) RunWithOverrides(ctx context.Context, ov *Overrides) (*core.RunResult, error) {
	start := time.Now()
	cfg := p.effectiveConfig(ov)

	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	window := time.Duration(cfg.WindowHours) * time.Hour

	p.setStage(StageCollecting)
	articles, err := p.collector.Collect(ctx, cfg.FeedURLs, window)
	if err != nil {
		p.setStage(StageDone)
		return nil, err
	}

	if len(articles) == 0 {
		p.log.Info("No articles in window, emitting empty result")
		result := p.finish(start, cfg.WindowHours, nil, 0, false)
		return result, nil
	}

	p.setStage(StageDeduping)
	dedupResult, err := p.clusterer.Cluster(ctx, articles)
	if err != nil {
		p.setStage(StageDone)
		return nil, err
	}
	clusters := dedupResult.Clusters
	p.log.Info("Deduplication completed",
		"articles", len(articles), "clusters", len(clusters), "degraded", dedupResult.Degraded)

	p.setStage(StageScoring)
	scores := p.scoreClusters(ctx, clusters)

	p.setStage(StageRouting)
	routed := make([]story.Routed, len(clusters))
	deepCount := 0
	for i, cluster := range clusters {
		tier := hotness.Route(scores[i].Overall, cfg.HotnessThreshold)
		if tier == hotness.TierDeep {
			deepCount++
		}
		routed[i] = story.Routed{Cluster: cluster, Score: scores[i], Tier: tier}
	}
	p.log.Info("Routing completed", "deep", deepCount, "simple", len(clusters)-deepCount)

	p.setStage(StageBuilding)
	stories := p.buildStories(ctx, routed)

	p.setStage(StageRanking)
	rankStories(stories)
	if cfg.TopK > 0 && len(stories) > cfg.TopK {
		stories = stories[:cfg.TopK]
	}

	result := p.finish(start, cfg.WindowHours, stories, len(articles), dedupResult.Degraded)
	p.log.Info("Run completed",
		"stories", len(stories), "articles", len(articles),
		"duration_seconds", result.ProcessingTime)
	return result, nil
}

// scoreClusters scores every cluster with bounded concurrency. Index i of
// the result always belongs to clusters[i].
func (p *Pipeline) scoreClusters(ctx context.Context, clusters []core.Cluster) []core.HotnessScore {
	scores := make([]core.HotnessScore, len(clusters))

	g := new(errgroup.Group)
	g.SetLimit(p.config.ScoringConcurrency)
	for i, cluster := range clusters {
		g.Go(func() error {
			scores[i] = p.scorer.Score(ctx, cluster)
			return nil
		})
	}
	_ = g.Wait()

	return scores
}

// buildStories builds one story per routed cluster with bounded concurrency.
func (p *Pipeline) buildStories(ctx context.Context, routed []story.Routed) []core.Story {
	stories := make([]core.Story, len(routed))

	g := new(errgroup.Group)
	g.SetLimit(p.config.BuildConcurrency)
	for i, r := range routed {
		g.Go(func() error {
			stories[i] = p.builder.Build(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	return stories
}

// rankStories sorts hottest first. Ties break on article count, then cluster
// ID, so a run over the same input ranks deterministically.
func rankStories(stories []core.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		if stories[i].Hotness.Overall != stories[j].Hotness.Overall {
			return stories[i].Hotness.Overall > stories[j].Hotness.Overall
		}
		if stories[i].ArticleCount != stories[j].ArticleCount {
			return stories[i].ArticleCount > stories[j].ArticleCount
		}
		return stories[i].ClusterID < stories[j].ClusterID
	})
}

// finish records the run result and resets the stage.
func (p *Pipeline) finish(start time.Time, windowHours int, stories []core.Story, articleCount int, degraded bool) *core.RunResult {
	if stories == nil {
		stories = []core.Story{}
	}
	result := &core.RunResult{
		Stories:                stories,
		TotalArticlesProcessed: articleCount,
		TimeWindowHours:        windowHours,
		DedupDegraded:          degraded,
		GeneratedAt:            time.Now().UTC(),
		ProcessingTime:         time.Since(start).Seconds(),
	}

	p.mu.Lock()
	p.lastResult = result
	p.stage = StageDone
	p.mu.Unlock()

	return result
}
