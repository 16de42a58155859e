// Package story builds finished stories from scored, routed clusters.
package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"radar/internal/core"
	"radar/internal/hotness"
	"radar/internal/logger"
	"radar/internal/timeline"
)

// Sentinel errors for the oracle failure classes handled in this package.
var (
	ErrDraftingUnavailable = errors.New("drafting unavailable")
	ErrResearchUnavailable = errors.New("research unavailable")
	ErrResearchTimeout     = errors.New("research timeout")
)

// SummaryDraft is the short summary returned by the drafting oracle.
type SummaryDraft struct {
	Headline   string        `json:"headline"`
	WhyNow     string        `json:"why_now"`
	Entities   []core.Entity `json:"entities"`
	SocialPost string        `json:"social_post"`
}

// DraftingOracle produces a short summary draft for a cluster.
type DraftingOracle interface {
	DraftSummary(ctx context.Context, cluster core.Cluster) (*SummaryDraft, error)
}

// ArticleInput carries everything the article drafter needs to write a full
// publication draft for one story.
type ArticleInput struct {
	Headline  string
	WhyNow    string
	Rationale string
	Articles  []core.Article
	Entities  []core.Entity
	Timeline  []core.TimelineEvent
}

// ArticleDrafter writes a full publication-ready article draft. A drafting
// oracle that also implements it upgrades summary-path stories from the
// template draft to a generated article; failures fall back to the template.
type ArticleDrafter interface {
	DraftArticle(ctx context.Context, input ArticleInput) (string, error)
}

// ResearchReport is the deep-research oracle output for one topic query.
type ResearchReport struct {
	ReportText         string               `json:"report_text"`
	Summary            string               `json:"summary"`
	SourceURLs         []string             `json:"source_urls"`
	TimelineCandidates []core.TimelineEvent `json:"timeline_candidates"`
}

// ResearchOracle investigates a topic query against at most maxSources
// external sources.
type ResearchOracle interface {
	Research(ctx context.Context, query string, maxSources int) (*ResearchReport, error)
}

// Routed is a cluster together with its hotness judgment and selected tier,
// the input to story building.
type Routed struct {
	Cluster core.Cluster
	Score   core.HotnessScore
	Tier    hotness.Tier
}

// outcome is the tagged two-variant build result. Research is nil for the
// simple variant; both variants are merged into a Story by one code path.
type outcome struct {
	Draft    SummaryDraft
	Research *ResearchReport
}

// Builder builds stories via the summary path or the deep-research path.
type Builder struct {
	drafter    DraftingOracle
	researcher ResearchOracle
	timeline   *timeline.Builder
	maxSources int
	log        *slog.Logger
}

// NewBuilder creates a story builder. researcher may be nil, in which case
// every cluster takes the summary path regardless of tier.
func NewBuilder(drafter DraftingOracle, researcher ResearchOracle, maxSources int) *Builder {
	if maxSources <= 0 {
		maxSources = 20
	}
	return &Builder{
		drafter:    drafter,
		researcher: researcher,
		timeline:   timeline.NewBuilder(),
		maxSources: maxSources,
		log:        logger.Get(),
	}
}

// Build produces exactly one Story for the routed cluster. It never fails:
// drafting errors fall back to representative-title content, and research
// errors downgrade the deep variant to the simple one.
func (b *Builder) Build(ctx context.Context, routed Routed) core.Story {
	var out outcome
	if routed.Tier == hotness.TierDeep && b.researcher != nil {
		out = b.deepOutcome(ctx, routed)
	} else {
		out = b.simpleOutcome(ctx, routed)
	}
	return b.merge(ctx, routed, out)
}

// simpleOutcome runs the cheap path: one drafting call, best-effort.
func (b *Builder) simpleOutcome(ctx context.Context, routed Routed) outcome {
	draft, err := b.drafter.DraftSummary(ctx, routed.Cluster)
	if err != nil || draft == nil {
		if err != nil {
			b.log.Warn("Drafting oracle failed, emitting minimal story",
				"cluster_id", routed.Cluster.ID, "error", err.Error())
		}
		rep := routed.Cluster.Representative()
		return outcome{Draft: SummaryDraft{Headline: rep.Title}}
	}
	return outcome{Draft: *draft}
}

// deepOutcome runs the expensive path and downgrades to the simple outcome
// when research fails or times out. Failures stay local to this cluster.
func (b *Builder) deepOutcome(ctx context.Context, routed Routed) outcome {
	out := b.simpleOutcome(ctx, routed)

	query := b.researchQuery(routed.Cluster, out.Draft)
	report, err := b.researcher.Research(ctx, query, b.maxSources)
	if err != nil || report == nil {
		if err != nil {
			b.log.Warn("Deep research failed, downgrading to summary path",
				"cluster_id", routed.Cluster.ID, "error", err.Error())
		}
		return out
	}

	b.log.Info("Deep research completed",
		"cluster_id", routed.Cluster.ID, "sources", len(report.SourceURLs))
	out.Research = report
	return out
}

// researchQuery builds the topic query from the representative headline and
// the top entities.
func (b *Builder) researchQuery(cluster core.Cluster, draft SummaryDraft) string {
	headline := draft.Headline
	if headline == "" {
		headline = cluster.Representative().Title
	}

	var names []string
	for i, e := range draft.Entities {
		if i >= 3 {
			break
		}
		names = append(names, e.Name)
	}

	if len(names) == 0 {
		return headline
	}
	return headline + " " + strings.Join(names, " ")
}

// merge is the single step that turns either outcome variant into a Story.
func (b *Builder) merge(ctx context.Context, routed Routed, out outcome) core.Story {
	cluster := routed.Cluster
	rep := cluster.Representative()

	headline := out.Draft.Headline
	if headline == "" {
		headline = rep.Title
	}

	// Cluster sources first, oracle-added sources after, deduplicated.
	sources := cluster.SourceURLs()
	seen := make(map[string]bool, len(sources))
	for _, u := range sources {
		seen[u] = true
	}

	observations := clusterObservations(cluster)
	var researchSummary, draftText string
	hasDeepResearch := false

	if out.Research != nil {
		hasDeepResearch = true
		draftText = out.Research.ReportText
		researchSummary = out.Research.Summary
		for _, u := range out.Research.SourceURLs {
			if u != "" && !seen[u] {
				sources = append(sources, u)
				seen[u] = true
			}
		}
		observations = append(observations, out.Research.TimelineCandidates...)
	}

	events := b.timeline.Build(observations)

	if draftText == "" {
		draftText = b.articleDraft(ctx, cluster, headline, out.Draft, routed.Score, events)
	}
	if draftText == "" {
		draftText = renderDraft(headline, out.Draft.WhyNow, routed.Score, out.Draft.Entities, events)
	}

	return core.Story{
		ID:              uuid.NewString(),
		Headline:        headline,
		Hotness:         routed.Score,
		WhyNow:          out.Draft.WhyNow,
		Entities:        out.Draft.Entities,
		Sources:         sources,
		Timeline:        events,
		Draft:           draftText,
		ClusterID:       cluster.ID,
		ArticleCount:    len(cluster.Articles),
		HasDeepResearch: hasDeepResearch,
		ResearchSummary: researchSummary,
		SocialPost:      out.Draft.SocialPost,
		CreatedAt:       time.Now().UTC(),
	}
}

// articleDraft asks the article drafter for a full publication draft when the
// drafting oracle offers one. Returns "" when unsupported or on failure, so
// the template draft takes over.
func (b *Builder) articleDraft(ctx context.Context, cluster core.Cluster, headline string, draft SummaryDraft, score core.HotnessScore, events []core.TimelineEvent) string {
	drafter, ok := b.drafter.(ArticleDrafter)
	if !ok {
		return ""
	}

	rationale := score.Rationale
	if rationale == hotness.FallbackRationale {
		rationale = ""
	}
	text, err := drafter.DraftArticle(ctx, ArticleInput{
		Headline:  headline,
		WhyNow:    draft.WhyNow,
		Rationale: rationale,
		Articles:  cluster.Articles,
		Entities:  draft.Entities,
		Timeline:  events,
	})
	if err != nil {
		b.log.Warn("Article drafting failed, rendering template draft",
			"cluster_id", cluster.ID, "error", err.Error())
		return ""
	}
	return strings.TrimSpace(text)
}

// clusterObservations derives raw timeline observations from cluster members.
func clusterObservations(cluster core.Cluster) []core.TimelineEvent {
	var observations []core.TimelineEvent
	for _, a := range cluster.Articles {
		if a.Title == "" || a.PublishedAt.IsZero() {
			continue
		}
		observations = append(observations, core.TimelineEvent{
			Timestamp:   a.PublishedAt,
			Description: a.Title,
			SourceURL:   a.URL,
		})
	}
	return observations
}

// renderDraft produces the lightweight markdown draft used when no research
// report is available.
func renderDraft(headline, whyNow string, score core.HotnessScore, entities []core.Entity, events []core.TimelineEvent) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", headline))
	if whyNow != "" {
		sb.WriteString(fmt.Sprintf("**Why now**: %s\n\n", whyNow))
	}
	if score.Rationale != "" && score.Rationale != hotness.FallbackRationale {
		sb.WriteString(fmt.Sprintf("**Analysis**: %s\n\n", score.Rationale))
	}

	if len(entities) > 0 {
		sb.WriteString("**Key entities**: ")
		var parts []string
		for i, e := range entities {
			if i >= 8 {
				break
			}
			part := e.Name
			if e.Ticker != "" {
				part += " [" + e.Ticker + "]"
			}
			parts = append(parts, part)
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n\n")
	}

	if len(events) > 0 {
		sb.WriteString("**Timeline**:\n")
		for i, e := range events {
			if i >= 5 {
				break
			}
			sb.WriteString(fmt.Sprintf("- %s: %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Description))
		}
	}

	return strings.TrimSpace(sb.String())
}
