package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"radar/internal/core"
	"radar/internal/dedup"
	"radar/internal/hotness"
	"radar/internal/story"
)

type stubCollector struct {
	articles []core.Article
	err      error
}

func (s *stubCollector) Collect(ctx context.Context, feedURLs []string, window time.Duration) ([]core.Article, error) {
	return s.articles, s.err
}

// stubClusterer puts every article in its own cluster.
type stubClusterer struct {
	degraded bool
	err      error
}

func (s *stubClusterer) Cluster(ctx context.Context, articles []core.Article) (*dedup.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	var clusters []core.Cluster
	for i, a := range articles {
		clusters = append(clusters, core.Cluster{
			ID:       fmt.Sprintf("cluster_%04d", i+1),
			Articles: []core.Article{a},
		})
	}
	return &dedup.Result{Clusters: clusters, Degraded: s.degraded}, nil
}

// stubScorer returns a per-cluster-ID score, zero fallback when absent.
type stubScorer struct {
	overall map[string]float64
}

func (s *stubScorer) Score(ctx context.Context, cluster core.Cluster) core.HotnessScore {
	if v, ok := s.overall[cluster.ID]; ok {
		return core.HotnessScore{Overall: v, Rationale: "stub"}
	}
	return hotness.FallbackScore()
}

// stubBuilder records the tier each cluster arrived with.
type stubBuilder struct {
	tiers map[string]hotness.Tier
}

func (s *stubBuilder) Build(ctx context.Context, routed story.Routed) core.Story {
	if s.tiers != nil {
		s.tiers[routed.Cluster.ID] = routed.Tier
	}
	return core.Story{
		ID:           "story-" + routed.Cluster.ID,
		Headline:     routed.Cluster.Representative().Title,
		Hotness:      routed.Score,
		ClusterID:    routed.Cluster.ID,
		ArticleCount: len(routed.Cluster.Articles),
	}
}

func testArticles(n int) []core.Article {
	now := time.Now().UTC()
	var articles []core.Article
	for i := 0; i < n; i++ {
		articles = append(articles, core.Article{
			ID:          fmt.Sprintf("a%d", i+1),
			Title:       fmt.Sprintf("Article %d", i+1),
			URL:         fmt.Sprintf("https://example.com/%d", i+1),
			Source:      "example.com",
			PublishedAt: now.Add(-time.Hour),
		})
	}
	return articles
}

func TestRunWithOverrides(t *testing.T) {
	config := DefaultConfig()
	config.TopK = 10
	config.HotnessThreshold = 0.6
	tiers := map[string]hotness.Tier{}
	p := New(
		&stubCollector{articles: testArticles(3)},
		&stubClusterer{},
		&stubScorer{overall: map[string]float64{
			"cluster_0001": 0.3,
			"cluster_0002": 0.9,
			"cluster_0003": 0.7,
		}},
		&stubBuilder{tiers: tiers},
		config,
	)

	threshold := 0.8
	result, err := p.RunWithOverrides(context.Background(), &Overrides{
		TopK:             1,
		HotnessThreshold: &threshold,
	})
	if err != nil {
		t.Fatalf("RunWithOverrides() error = %v", err)
	}

	if len(result.Stories) != 1 {
		t.Fatalf("Expected overridden top 1, got %d stories", len(result.Stories))
	}
	if tiers["cluster_0002"] != hotness.TierDeep {
		t.Error("Expected 0.9 to stay deep at overridden threshold 0.8")
	}
	if tiers["cluster_0003"] != hotness.TierSimple {
		t.Error("Expected 0.7 to route simple at overridden threshold 0.8")
	}

	// The configured values stay in place for the next run.
	result, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Stories) != 3 {
		t.Errorf("Expected configured top-K after overridden run, got %d stories", len(result.Stories))
	}
	if tiers["cluster_0003"] != hotness.TierDeep {
		t.Error("Expected 0.7 to route deep again at configured threshold 0.6")
	}
}

func TestRunClampsZeroConcurrency(t *testing.T) {
	config := DefaultConfig()
	config.ScoringConcurrency = 0
	config.BuildConcurrency = 0
	p := New(
		&stubCollector{articles: testArticles(2)},
		&stubClusterer{},
		&stubScorer{overall: map[string]float64{
			"cluster_0001": 0.8,
			"cluster_0002": 0.4,
		}},
		&stubBuilder{},
		config,
	)

	done := make(chan struct{})
	var result *core.RunResult
	var err error
	go func() {
		result, err = p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run stalled with zero concurrency config")
	}
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Stories) != 2 {
		t.Errorf("Expected 2 stories, got %d", len(result.Stories))
	}
}

func TestRunRanksAndTruncates(t *testing.T) {
	config := DefaultConfig()
	config.TopK = 2
	p := New(
		&stubCollector{articles: testArticles(3)},
		&stubClusterer{},
		&stubScorer{overall: map[string]float64{
			"cluster_0001": 0.3,
			"cluster_0002": 0.9,
			"cluster_0003": 0.7,
		}},
		&stubBuilder{},
		config,
	)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Stories) != 2 {
		t.Fatalf("Expected top 2 stories, got %d", len(result.Stories))
	}
	if result.Stories[0].ClusterID != "cluster_0002" || result.Stories[1].ClusterID != "cluster_0003" {
		t.Errorf("Unexpected ranking: %s, %s", result.Stories[0].ClusterID, result.Stories[1].ClusterID)
	}
	if result.TotalArticlesProcessed != 3 {
		t.Errorf("Expected 3 articles processed, got %d", result.TotalArticlesProcessed)
	}
	if result.GeneratedAt.IsZero() {
		t.Error("Expected GeneratedAt to be set")
	}
	if p.LastResult() != result {
		t.Error("Expected the run to be cached as last result")
	}
	if p.Stage() != StageDone {
		t.Errorf("Expected done stage, got %q", p.Stage())
	}
}

func TestRunEmptyWindow(t *testing.T) {
	p := New(&stubCollector{}, &stubClusterer{}, &stubScorer{}, &stubBuilder{}, nil)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Stories) != 0 {
		t.Errorf("Expected empty story list, got %d", len(result.Stories))
	}
	if result.Stories == nil {
		t.Error("Stories should be an empty slice, not nil")
	}
	if result.DedupDegraded {
		t.Error("Empty run must not be marked degraded")
	}
	if p.LastResult() == nil {
		t.Error("Empty run should still be cached")
	}
}

func TestRunCollectFailure(t *testing.T) {
	p := New(&stubCollector{err: errors.New("network down")}, &stubClusterer{}, &stubScorer{}, &stubBuilder{}, nil)

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("Expected collection failure to surface")
	}
	if p.LastResult() != nil {
		t.Error("Failed run must not overwrite the last result")
	}
}

func TestRunRoutesByThreshold(t *testing.T) {
	config := DefaultConfig()
	config.HotnessThreshold = 0.6
	builder := &stubBuilder{tiers: make(map[string]hotness.Tier)}
	p := New(
		&stubCollector{articles: testArticles(2)},
		&stubClusterer{},
		&stubScorer{overall: map[string]float64{
			"cluster_0001": 0.6,
			"cluster_0002": 0.59,
		}},
		builder,
		config,
	)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if builder.tiers["cluster_0001"] != hotness.TierDeep {
		t.Errorf("Score at threshold should route deep, got %q", builder.tiers["cluster_0001"])
	}
	if builder.tiers["cluster_0002"] != hotness.TierSimple {
		t.Errorf("Score below threshold should route simple, got %q", builder.tiers["cluster_0002"])
	}
}

func TestRunScoringFallbackRoutesSimple(t *testing.T) {
	builder := &stubBuilder{tiers: make(map[string]hotness.Tier)}
	// Scorer has no entry, so every cluster gets the zero fallback.
	p := New(&stubCollector{articles: testArticles(1)}, &stubClusterer{}, &stubScorer{}, builder, nil)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if builder.tiers["cluster_0001"] != hotness.TierSimple {
		t.Error("Fallback score must route to the simple tier")
	}
	if len(result.Stories) != 1 {
		t.Errorf("Failed scoring must still produce a story, got %d", len(result.Stories))
	}
}

func TestRunDegradedFlagPropagates(t *testing.T) {
	p := New(&stubCollector{articles: testArticles(1)}, &stubClusterer{degraded: true}, &stubScorer{}, &stubBuilder{}, nil)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.DedupDegraded {
		t.Error("Expected degraded flag to propagate to the run result")
	}
}

func TestRankStoriesTieBreaks(t *testing.T) {
	stories := []core.Story{
		{ClusterID: "c3", Hotness: core.HotnessScore{Overall: 0.5}, ArticleCount: 1},
		{ClusterID: "c2", Hotness: core.HotnessScore{Overall: 0.5}, ArticleCount: 4},
		{ClusterID: "c1", Hotness: core.HotnessScore{Overall: 0.5}, ArticleCount: 1},
	}
	rankStories(stories)

	if stories[0].ClusterID != "c2" {
		t.Errorf("Higher article count should win ties, got %s first", stories[0].ClusterID)
	}
	if stories[1].ClusterID != "c1" || stories[2].ClusterID != "c3" {
		t.Errorf("Remaining ties should order by cluster ID: %s, %s", stories[1].ClusterID, stories[2].ClusterID)
	}
}

type flakyOracle struct {
	failures int
	calls    int
}

func (f *flakyOracle) ScoreHotness(ctx context.Context, summary hotness.ClusterSummary) (*hotness.OracleScore, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, hotness.ErrScoringUnavailable
	}
	return &hotness.OracleScore{Materiality: 0.8, Rationale: "recovered"}, nil
}

func TestScoringOracleWithRetry(t *testing.T) {
	inner := &flakyOracle{failures: 2}
	oracle := ScoringOracleWithRetry(inner, 3, time.Millisecond)

	score, err := oracle.ScoreHotness(context.Background(), hotness.ClusterSummary{})
	if err != nil {
		t.Fatalf("Expected recovery within 3 attempts, got %v", err)
	}
	if score.Rationale != "recovered" {
		t.Errorf("Unexpected score: %+v", score)
	}
	if inner.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", inner.calls)
	}
}

func TestScoringOracleWithRetryExhausted(t *testing.T) {
	inner := &flakyOracle{failures: 10}
	oracle := ScoringOracleWithRetry(inner, 3, time.Millisecond)

	if _, err := oracle.ScoreHotness(context.Background(), hotness.ClusterSummary{}); err == nil {
		t.Fatal("Expected exhausted retries to fail")
	}
	if inner.calls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", inner.calls)
	}
}

type failingResearcher struct{ calls int }

func (f *failingResearcher) Research(ctx context.Context, query string, maxSources int) (*story.ResearchReport, error) {
	f.calls++
	return nil, story.ErrResearchUnavailable
}

func TestResearchOracleWithRetryExhausted(t *testing.T) {
	inner := &failingResearcher{}
	oracle := ResearchOracleWithRetry(inner, 2, time.Millisecond)

	if _, err := oracle.Research(context.Background(), "topic", 5); !errors.Is(err, story.ErrResearchUnavailable) {
		t.Errorf("Expected the inner error, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", inner.calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &failingResearcher{}
	oracle := ResearchOracleWithRetry(inner, 5, 10*time.Second)

	if _, err := oracle.Research(ctx, "topic", 5); err == nil {
		t.Fatal("Expected an error with a cancelled context")
	}
	if inner.calls > 1 {
		t.Errorf("Cancelled context must not keep retrying, got %d calls", inner.calls)
	}
}
