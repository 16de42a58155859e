package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"radar/internal/core"
	"radar/internal/hotness"
)

type mockDrafter struct {
	draft      *SummaryDraft
	shouldFail bool
	calls      int
}

func (m *mockDrafter) DraftSummary(ctx context.Context, cluster core.Cluster) (*SummaryDraft, error) {
	m.calls++
	if m.shouldFail {
		return nil, ErrDraftingUnavailable
	}
	return m.draft, nil
}

type mockResearcher struct {
	report     *ResearchReport
	shouldFail bool
	lastQuery  string
	calls      int
}

func (m *mockResearcher) Research(ctx context.Context, query string, maxSources int) (*ResearchReport, error) {
	m.calls++
	m.lastQuery = query
	if m.shouldFail {
		return nil, errors.New("search provider unreachable")
	}
	return m.report, nil
}

// mockArticleDrafter additionally satisfies ArticleDrafter.
type mockArticleDrafter struct {
	mockDrafter
	article      string
	articleFail  bool
	articleCalls int
	lastInput    ArticleInput
}

func (m *mockArticleDrafter) DraftArticle(ctx context.Context, input ArticleInput) (string, error) {
	m.articleCalls++
	m.lastInput = input
	if m.articleFail {
		return "", ErrDraftingUnavailable
	}
	return m.article, nil
}

func testCluster() core.Cluster {
	now := time.Now().UTC()
	return core.Cluster{
		ID: "cluster_0001",
		Articles: []core.Article{
			{
				ID:          "a1",
				Title:       "Acme Corp announces surprise CEO departure",
				URL:         "https://reuters.com/acme-ceo",
				Source:      "reuters.com",
				PublishedAt: now.Add(-3 * time.Hour),
				Content:     strings.Repeat("x", 900),
			},
			{
				ID:          "a2",
				Title:       "Acme CEO steps down effective immediately",
				URL:         "https://example.com/acme",
				Source:      "example.com",
				PublishedAt: now.Add(-1 * time.Hour),
				Content:     strings.Repeat("y", 400),
			},
		},
	}
}

func testScore(overall float64) core.HotnessScore {
	return core.HotnessScore{
		Overall:   overall,
		Rationale: "leadership shakeup at a large issuer",
	}
}

func TestBuildSummaryPath(t *testing.T) {
	drafter := &mockDrafter{draft: &SummaryDraft{
		Headline:   "Acme CEO departs unexpectedly",
		WhyNow:     "Unscheduled leadership change during earnings season",
		Entities:   []core.Entity{{Name: "Acme Corp", Category: core.EntityCompany, Ticker: "ACME"}},
		SocialPost: "Acme CEO out. Board scrambles before earnings. $ACME #ACME",
	}}
	builder := NewBuilder(drafter, nil, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.4),
		Tier:    hotness.TierSimple,
	})

	if s.Headline != "Acme CEO departs unexpectedly" {
		t.Errorf("Expected drafted headline, got %q", s.Headline)
	}
	if s.HasDeepResearch {
		t.Error("Summary path should not mark deep research")
	}
	if s.ArticleCount != 2 {
		t.Errorf("Expected article count 2, got %d", s.ArticleCount)
	}
	if len(s.Sources) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(s.Sources))
	}
	if !strings.Contains(s.Draft, "Acme CEO departs unexpectedly") {
		t.Error("Rendered draft should include the headline")
	}
	if !strings.Contains(s.Draft, "ACME") {
		t.Error("Rendered draft should include entity tickers")
	}
	if len(s.Timeline) == 0 {
		t.Error("Expected timeline events derived from cluster members")
	}
	if s.ID == "" || s.ClusterID != "cluster_0001" {
		t.Errorf("Expected story id and cluster id, got id=%q cluster=%q", s.ID, s.ClusterID)
	}
	if !strings.Contains(s.SocialPost, "#ACME") {
		t.Errorf("Expected drafted social post, got %q", s.SocialPost)
	}
}

func TestBuildSummaryPathGeneratesArticleDraft(t *testing.T) {
	drafter := &mockArticleDrafter{
		mockDrafter: mockDrafter{draft: &SummaryDraft{
			Headline: "Acme CEO departs unexpectedly",
			WhyNow:   "Unscheduled leadership change during earnings season",
			Entities: []core.Entity{{Name: "Acme Corp", Category: core.EntityCompany, Ticker: "ACME"}},
		}},
		article: "# Acme CEO Departs\n\nThe board confirmed the exit on Tuesday.",
	}
	builder := NewBuilder(drafter, nil, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.4),
		Tier:    hotness.TierSimple,
	})

	if s.Draft != drafter.article {
		t.Errorf("Expected generated article as draft, got %q", s.Draft)
	}
	if drafter.articleCalls != 1 {
		t.Errorf("Expected one article drafting call, got %d", drafter.articleCalls)
	}
	if drafter.lastInput.Headline != "Acme CEO departs unexpectedly" {
		t.Errorf("Article input should carry the drafted headline, got %q", drafter.lastInput.Headline)
	}
	if len(drafter.lastInput.Articles) != 2 {
		t.Errorf("Article input should carry cluster members, got %d", len(drafter.lastInput.Articles))
	}
	if len(drafter.lastInput.Timeline) == 0 {
		t.Error("Article input should carry the built timeline")
	}
}

func TestBuildArticleDraftFailureFallsBackToTemplate(t *testing.T) {
	drafter := &mockArticleDrafter{
		mockDrafter: mockDrafter{draft: &SummaryDraft{Headline: "Acme shakeup"}},
		articleFail: true,
	}
	builder := NewBuilder(drafter, nil, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.4),
		Tier:    hotness.TierSimple,
	})

	if !strings.Contains(s.Draft, "# Acme shakeup") {
		t.Errorf("Expected template draft fallback, got %q", s.Draft)
	}
}

func TestBuildDeepPathSkipsArticleDrafter(t *testing.T) {
	drafter := &mockArticleDrafter{
		mockDrafter: mockDrafter{draft: &SummaryDraft{Headline: "Acme shakeup"}},
		article:     "unused",
	}
	researcher := &mockResearcher{report: &ResearchReport{
		ReportText: "## Findings\n\nBoard dispute.",
		Summary:    "Board dispute preceded the exit.",
	}}
	builder := NewBuilder(drafter, researcher, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.9),
		Tier:    hotness.TierDeep,
	})

	if s.Draft != "## Findings\n\nBoard dispute." {
		t.Errorf("Research report must stay the deep draft, got %q", s.Draft)
	}
	if drafter.articleCalls != 0 {
		t.Errorf("Deep path must not call the article drafter, got %d calls", drafter.articleCalls)
	}
}

func TestBuildDeepPath(t *testing.T) {
	drafter := &mockDrafter{draft: &SummaryDraft{
		Headline: "Acme CEO departs unexpectedly",
		Entities: []core.Entity{{Name: "Acme Corp", Category: core.EntityCompany}},
	}}
	researcher := &mockResearcher{report: &ResearchReport{
		ReportText: "## Findings\n\nThe departure follows a board dispute.",
		Summary:    "Board dispute preceded the exit.",
		SourceURLs: []string{"https://reuters.com/acme-ceo", "https://ft.com/acme-board"},
		TimelineCandidates: []core.TimelineEvent{
			{Timestamp: time.Now().UTC().Add(-48 * time.Hour), Description: "Board meeting called", SourceURL: "https://ft.com/acme-board"},
		},
	}}
	builder := NewBuilder(drafter, researcher, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.9),
		Tier:    hotness.TierDeep,
	})

	if !s.HasDeepResearch {
		t.Error("Expected deep research flag")
	}
	if s.Draft != "## Findings\n\nThe departure follows a board dispute." {
		t.Errorf("Expected report text as draft, got %q", s.Draft)
	}
	if s.ResearchSummary != "Board dispute preceded the exit." {
		t.Errorf("Unexpected research summary: %q", s.ResearchSummary)
	}
	if researcher.calls != 1 {
		t.Errorf("Expected one research call, got %d", researcher.calls)
	}
	if !strings.Contains(researcher.lastQuery, "Acme") {
		t.Errorf("Query should carry the headline, got %q", researcher.lastQuery)
	}

	// Cluster sources come first; the new research source is appended once.
	if len(s.Sources) != 3 {
		t.Fatalf("Expected 3 deduplicated sources, got %d: %v", len(s.Sources), s.Sources)
	}
	if s.Sources[0] != "https://reuters.com/acme-ceo" {
		t.Errorf("Cluster sources should lead, got %q first", s.Sources[0])
	}
	if s.Sources[2] != "https://ft.com/acme-board" {
		t.Errorf("Research source should trail, got %q", s.Sources[2])
	}

	// Timeline should merge research candidates with member observations
	// and keep ascending order.
	if len(s.Timeline) < 3 {
		t.Fatalf("Expected merged timeline, got %d events", len(s.Timeline))
	}
	if s.Timeline[0].Description != "Board meeting called" {
		t.Errorf("Earliest event should be the research candidate, got %q", s.Timeline[0].Description)
	}
}

func TestBuildDeepPathMergesManySources(t *testing.T) {
	// 22 oracle sources, the first duplicating a cluster URL.
	urls := []string{"https://reuters.com/acme-ceo"}
	for i := 0; i < 21; i++ {
		urls = append(urls, fmt.Sprintf("https://research.example.com/source-%02d", i+1))
	}

	drafter := &mockDrafter{draft: &SummaryDraft{Headline: "Acme CEO departs unexpectedly"}}
	researcher := &mockResearcher{report: &ResearchReport{
		ReportText: "## Findings\n\nWide coverage across outlets.",
		Summary:    "Broadly confirmed.",
		SourceURLs: urls,
	}}
	builder := NewBuilder(drafter, researcher, 25)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.9),
		Tier:    hotness.TierDeep,
	})

	// 2 cluster sources plus 21 new research sources, duplicate dropped.
	if len(s.Sources) != 23 {
		t.Fatalf("Expected 23 merged sources, got %d", len(s.Sources))
	}
	if s.Sources[0] != "https://reuters.com/acme-ceo" {
		t.Errorf("Cluster sources should lead, got %q first", s.Sources[0])
	}
	seen := make(map[string]bool)
	for _, u := range s.Sources {
		if seen[u] {
			t.Errorf("Duplicate source %q in merged list", u)
		}
		seen[u] = true
	}
}

func TestBuildDeepPathDowngradesOnFailure(t *testing.T) {
	drafter := &mockDrafter{draft: &SummaryDraft{Headline: "Acme shakeup"}}
	researcher := &mockResearcher{shouldFail: true}
	builder := NewBuilder(drafter, researcher, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.9),
		Tier:    hotness.TierDeep,
	})

	if s.HasDeepResearch {
		t.Error("Failed research must not mark deep research")
	}
	if s.Headline != "Acme shakeup" {
		t.Errorf("Downgraded story should keep the summary draft, got %q", s.Headline)
	}
	if s.Draft == "" {
		t.Error("Downgraded story should still carry a rendered draft")
	}
}

func TestBuildDraftingFailureFallsBack(t *testing.T) {
	drafter := &mockDrafter{shouldFail: true}
	builder := NewBuilder(drafter, nil, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.3),
		Tier:    hotness.TierSimple,
	})

	// Representative is the reputable source's article.
	if s.Headline != "Acme Corp announces surprise CEO departure" {
		t.Errorf("Expected representative title fallback, got %q", s.Headline)
	}
	if s.Draft == "" {
		t.Error("Fallback story should still render a draft")
	}
}

func TestBuildDeepTierWithoutResearcherStaysSimple(t *testing.T) {
	drafter := &mockDrafter{draft: &SummaryDraft{Headline: "Acme shakeup"}}
	builder := NewBuilder(drafter, nil, 20)

	s := builder.Build(context.Background(), Routed{
		Cluster: testCluster(),
		Score:   testScore(0.95),
		Tier:    hotness.TierDeep,
	})

	if s.HasDeepResearch {
		t.Error("No researcher configured, story must stay on the summary path")
	}
}

func TestResearchQueryIncludesEntities(t *testing.T) {
	builder := NewBuilder(&mockDrafter{}, nil, 20)
	q := builder.researchQuery(testCluster(), SummaryDraft{
		Headline: "Acme CEO departs",
		Entities: []core.Entity{
			{Name: "Acme Corp"}, {Name: "Jane Doe"}, {Name: "NYSE"}, {Name: "Ignored Fourth"},
		},
	})

	if !strings.Contains(q, "Acme CEO departs") {
		t.Errorf("Query missing headline: %q", q)
	}
	if !strings.Contains(q, "NYSE") {
		t.Errorf("Query missing third entity: %q", q)
	}
	if strings.Contains(q, "Ignored Fourth") {
		t.Errorf("Query should cap entities at three: %q", q)
	}
}
