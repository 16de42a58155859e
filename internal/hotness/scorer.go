// Package hotness scores story clusters and routes them to a processing tier.
package hotness

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"radar/internal/core"
	"radar/internal/logger"
)

// Sentinel errors for scoring oracle failure classes.
var (
	ErrScoringUnavailable = errors.New("scoring unavailable")
	ErrScoringTimeout     = errors.New("scoring timeout")
)

// FallbackRationale is the rationale attached to the fail-safe zero score.
const FallbackRationale = "scoring unavailable"

// ClusterSummary is the compact cluster representation submitted to the
// scoring oracle.
type ClusterSummary struct {
	ClusterID          string   `json:"cluster_id"`
	RepresentativeText string   `json:"representative_text"`
	Headline           string   `json:"headline"`
	MemberCount        int      `json:"member_count"`
	Sources            []string `json:"sources"`
}

// OracleScore is the raw five-metric judgment returned by the scoring oracle.
// Overall is optional; when nil the scorer derives it from the sub-metrics.
type OracleScore struct {
	Unexpectedness float64
	Materiality    float64
	Velocity       float64
	Breadth        float64
	Credibility    float64
	Overall        *float64
	Rationale      string
}

// ScoringOracle judges the hotness of one cluster summary.
type ScoringOracle interface {
	ScoreHotness(ctx context.Context, summary ClusterSummary) (*OracleScore, error)
}

// Combiner derives the overall score from the five validated sub-metrics.
type Combiner func(unexpectedness, materiality, velocity, breadth, credibility float64) float64

// DefaultCombiner is the weighted combination used when no custom rule is
// configured. Materiality carries the largest weight.
func DefaultCombiner(unexpectedness, materiality, velocity, breadth, credibility float64) float64 {
	return unexpectedness*0.25 + materiality*0.30 + velocity*0.15 + breadth*0.15 + credibility*0.15
}

// Scorer invokes the scoring oracle per cluster and normalizes the result.
// Scoring is stateless and idempotent for the same cluster content.
type Scorer struct {
	oracle ScoringOracle
	// combine derives Overall from the sub-metrics.
	combine Combiner
	// preferOracleOverall takes the oracle-supplied overall, clamped, when
	// the oracle returns one.
	preferOracleOverall bool
	log                 *slog.Logger
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithCombiner overrides the overall combination rule.
func WithCombiner(c Combiner) ScorerOption {
	return func(s *Scorer) { s.combine = c }
}

// WithOracleOverall makes the scorer trust an oracle-supplied overall score
// instead of deriving it from the sub-metrics.
func WithOracleOverall() ScorerOption {
	return func(s *Scorer) { s.preferOracleOverall = true }
}

// NewScorer creates a Scorer backed by the given oracle.
func NewScorer(oracle ScoringOracle, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		oracle:  oracle,
		combine: DefaultCombiner,
		log:     logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize assembles the compact oracle input for a cluster: representative
// text, member count, and source diversity.
func Summarize(cluster core.Cluster) ClusterSummary {
	rep := cluster.Representative()
	content := core.Truncate(rep.Content, 2000)

	seen := make(map[string]bool)
	var sources []string
	for _, a := range cluster.Articles {
		name := strings.ToLower(a.Source)
		if name != "" && !seen[name] {
			sources = append(sources, a.Source)
			seen[name] = true
		}
	}

	return ClusterSummary{
		ClusterID:          cluster.ID,
		RepresentativeText: content,
		Headline:           rep.Title,
		MemberCount:        len(cluster.Articles),
		Sources:            sources,
	}
}

// Score returns a bounded HotnessScore for the cluster. Out-of-range oracle
// values are clamped, never rejected. Oracle failure or timeout yields the
// deterministic fallback score with overall 0, which guarantees the cluster
// routes to the cheap path.
func (s *Scorer) Score(ctx context.Context, cluster core.Cluster) core.HotnessScore {
	summary := Summarize(cluster)

	raw, err := s.oracle.ScoreHotness(ctx, summary)
	if err != nil || raw == nil {
		if err != nil {
			s.log.Warn("Scoring oracle failed, using fallback score",
				"cluster_id", cluster.ID, "error", err.Error())
		}
		return FallbackScore()
	}

	score := core.HotnessScore{
		Unexpectedness: Clamp(raw.Unexpectedness),
		Materiality:    Clamp(raw.Materiality),
		Velocity:       Clamp(raw.Velocity),
		Breadth:        Clamp(raw.Breadth),
		Credibility:    Clamp(raw.Credibility),
		Rationale:      raw.Rationale,
	}

	if s.preferOracleOverall && raw.Overall != nil {
		score.Overall = Clamp(*raw.Overall)
	} else {
		score.Overall = Clamp(s.combine(
			score.Unexpectedness, score.Materiality, score.Velocity, score.Breadth, score.Credibility))
	}

	return score
}

// FallbackScore is the deterministic fail-safe score: all metrics zero.
func FallbackScore() core.HotnessScore {
	return core.HotnessScore{Rationale: FallbackRationale}
}

// Clamp bounds a metric to [0,1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
