// Package research implements the deep-research engine behind the expensive
// story path: plan sub-queries, fan out searches, synthesize a report.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"radar/internal/logger"
	"radar/internal/search"
	"radar/internal/story"
)

// Source is one retrieved piece of evidence handed to the synthesizer.
type Source struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Domain      string    `json:"domain"`
	Snippet     string    `json:"snippet"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Rank        int       `json:"rank"`
}

// Planner decomposes a research topic into focused sub-queries.
type Planner interface {
	PlanSubQueries(ctx context.Context, topic string) ([]string, error)
}

// Synthesizer turns collected sources into a research report.
type Synthesizer interface {
	SynthesizeReport(ctx context.Context, topic string, sources []Source, subQueries []string) (*story.ResearchReport, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds each Research call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithConcurrency limits concurrent sub-query searches.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// Engine orchestrates the deep research process. It implements
// story.ResearchOracle.
type Engine struct {
	planner     Planner
	provider    search.Provider
	synthesizer Synthesizer
	timeout     time.Duration
	concurrency int
	log         *slog.Logger
}

// NewEngine creates a research engine from its components.
func NewEngine(planner Planner, provider search.Provider, synthesizer Synthesizer, opts ...Option) *Engine {
	e := &Engine{
		planner:     planner,
		provider:    provider,
		synthesizer: synthesizer,
		timeout:     90 * time.Second,
		concurrency: 2,
		log:         logger.Get(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Research performs a complete deep research pass for one topic query.
// Individual sub-query failures are tolerated; the call fails only when no
// evidence could be collected at all or the deadline is hit.
func (e *Engine) Research(ctx context.Context, topic string, maxSources int) (*story.ResearchReport, error) {
	if maxSources <= 0 {
		maxSources = 20
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	subQueries := e.planQueries(ctx, topic)

	sources, err := e.collectSources(ctx, subQueries, maxSources)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("research %q: %w", topic, search.ErrNoResults)
	}

	e.log.Info("Research sources collected",
		"topic", topic, "sub_queries", len(subQueries), "sources", len(sources))

	report, err := e.synthesizer.SynthesizeReport(ctx, topic, sources, subQueries)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize report: %w", err)
	}

	// The synthesizer cites from the sources it saw; carry every collected
	// URL even when the model omits some.
	report.SourceURLs = mergeURLs(report.SourceURLs, sources)

	return report, nil
}

// planQueries asks the planner for sub-queries and degrades to searching the
// topic itself when planning fails.
func (e *Engine) planQueries(ctx context.Context, topic string) []string {
	subQueries, err := e.planner.PlanSubQueries(ctx, topic)
	if err != nil || len(subQueries) == 0 {
		if err != nil {
			e.log.Warn("Sub-query planning failed, searching topic directly",
				"topic", topic, "error", err.Error())
		}
		return []string{topic}
	}
	if len(subQueries) > 4 {
		subQueries = subQueries[:4]
	}
	return subQueries
}

// collectSources runs all sub-query searches with bounded concurrency and
// merges the results, deduplicated by URL and capped at maxSources.
func (e *Engine) collectSources(ctx context.Context, subQueries []string, maxSources int) ([]Source, error) {
	perQuery := maxSources / len(subQueries)
	if perQuery < 3 {
		perQuery = 3
	}
	searchConfig := search.Config{
		MaxResults: perQuery,
		SinceTime:  7 * 24 * time.Hour,
		Topic:      "news",
	}

	var mu sync.Mutex
	resultsByQuery := make([][]search.Result, len(subQueries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, query := range subQueries {
		g.Go(func() error {
			results, err := e.provider.Search(gctx, query, searchConfig)
			if err != nil {
				e.log.Warn("Sub-query search failed", "query", query, "error", err.Error())
				return nil
			}
			mu.Lock()
			resultsByQuery[i] = results
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", story.ErrResearchTimeout, ctx.Err())
	}

	// Merge in sub-query order so earlier, more central queries win the cap.
	seen := make(map[string]bool)
	var sources []Source
	for _, results := range resultsByQuery {
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			sources = append(sources, Source{
				URL:         r.URL,
				Title:       r.Title,
				Domain:      r.Domain,
				Snippet:     r.Snippet,
				PublishedAt: r.PublishedAt,
				Rank:        r.Rank,
			})
		}
	}

	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Rank < sources[j].Rank })
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	return sources, nil
}

// mergeURLs unions synthesizer-cited URLs with all collected source URLs,
// cited ones first.
func mergeURLs(cited []string, sources []Source) []string {
	seen := make(map[string]bool, len(cited))
	merged := make([]string, 0, len(cited)+len(sources))
	for _, u := range cited {
		if u != "" && !seen[u] {
			merged = append(merged, u)
			seen[u] = true
		}
	}
	for _, s := range sources {
		if s.URL != "" && !seen[s.URL] {
			merged = append(merged, s.URL)
			seen[s.URL] = true
		}
	}
	return merged
}
