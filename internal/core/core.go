package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ArticleOrigin identifies how an article entered the system.
type ArticleOrigin string

const (
	OriginFeed   ArticleOrigin = "feed"   // Discovered via RSS/Atom polling
	OriginSearch ArticleOrigin = "search" // Discovered via a search API query
)

// Article represents a raw news article as collected from a source.
// Articles are immutable once collected; downstream stages only read them.
type Article struct {
	ID          string        `json:"id"`           // Unique identifier for the article
	Source      string        `json:"source"`       // Source name (e.g., "reuters.com")
	URL         string        `json:"url"`          // Canonical URL of the article
	Title       string        `json:"title"`        // Article title
	Content     string        `json:"content"`      // Cleaned body text
	PublishedAt time.Time     `json:"published_at"` // Publication timestamp
	Origin      ArticleOrigin `json:"origin"`       // How the article was discovered
	Embedding   []float64     `json:"embedding"`    // Vector embedding, attached lazily during dedup
}

// Cluster groups articles judged to report the same underlying story.
// Clusters are mutable only during deduplication; afterwards they are
// read-only inputs to scoring, routing, and story building.
type Cluster struct {
	ID        string    `json:"id"`         // Cluster identifier (e.g., "cluster_0001")
	Articles  []Article `json:"articles"`   // Members in discovery order
	Centroid  []float64 `json:"centroid"`   // Running mean of member embeddings
	CreatedAt time.Time `json:"created_at"` // When the cluster was opened
}

// Representative returns the cluster member that best represents the story,
// preferring recent, detailed articles from reputable sources. The first
// member wins ties, so a singleton cluster returns its only article.
func (c *Cluster) Representative() Article {
	if len(c.Articles) == 1 {
		return c.Articles[0]
	}

	latest := c.Articles[0].PublishedAt
	oldest := c.Articles[0].PublishedAt
	for _, a := range c.Articles[1:] {
		if a.PublishedAt.After(latest) {
			latest = a.PublishedAt
		}
		if a.PublishedAt.Before(oldest) {
			oldest = a.PublishedAt
		}
	}
	timeRange := latest.Sub(oldest).Seconds()

	best := c.Articles[0]
	bestScore := -1.0
	for _, a := range c.Articles {
		timeScore := 1.0
		if timeRange > 0 {
			timeScore = a.PublishedAt.Sub(oldest).Seconds() / timeRange
		}

		lengthScore := float64(len(a.Content)) / 1000.0
		if lengthScore > 1.0 {
			lengthScore = 1.0
		}

		reputationScore := 0.5
		if IsReputableSource(a.Source) {
			reputationScore = 1.0
		}

		score := timeScore*0.4 + lengthScore*0.3 + reputationScore*0.3
		if score > bestScore {
			bestScore = score
			best = a
		}
	}

	return best
}

// SourceURLs returns the deduplicated URLs of cluster members in discovery order.
func (c *Cluster) SourceURLs() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, a := range c.Articles {
		if a.URL != "" && !seen[a.URL] {
			urls = append(urls, a.URL)
			seen[a.URL] = true
		}
	}
	return urls
}

// Truncate caps s at max bytes without splitting a multi-byte rune. The cut
// backs up to the nearest rune boundary so the result stays valid UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// reputableSources lists source substrings treated as high-credibility when
// selecting a representative article.
var reputableSources = []string{"reuters", "bloomberg", "wsj", "ft.com", "cnbc"}

// IsReputableSource reports whether the source name matches a known
// high-reputation financial outlet.
func IsReputableSource(source string) bool {
	lower := strings.ToLower(source)
	for _, s := range reputableSources {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// HotnessScore is the multi-dimensional hotness judgment for one cluster.
// All metrics, including Overall, are bounded to [0,1].
type HotnessScore struct {
	Overall        float64 `json:"overall"`        // Composite hotness score
	Unexpectedness float64 `json:"unexpectedness"` // Surprise relative to market consensus
	Materiality    float64 `json:"materiality"`    // Potential impact on price/volatility/liquidity
	Velocity       float64 `json:"velocity"`       // Speed of information spread
	Breadth        float64 `json:"breadth"`        // Number of affected assets
	Credibility    float64 `json:"credibility"`    // Source reputation and confirmation level
	Rationale      string  `json:"rationale"`      // Explanation of the scoring
}

// EntityCategory classifies a financial entity mentioned in news.
type EntityCategory string

const (
	EntityCompany EntityCategory = "company"
	EntityTicker  EntityCategory = "ticker"
	EntitySector  EntityCategory = "sector"
	EntityCountry EntityCategory = "country"
	EntityPerson  EntityCategory = "person"
)

// Entity is a financial entity extracted from a story.
type Entity struct {
	Name      string         `json:"name"`             // Entity name
	Category  EntityCategory `json:"category"`         // Entity classification
	Relevance float64        `json:"relevance"`        // Relevance to the story, [0,1]
	Ticker    string         `json:"ticker,omitempty"` // Ticker symbol, when known
}

// EventType classifies a timeline event.
type EventType string

const (
	EventFirstMention EventType = "first_mention"
	EventConfirmation EventType = "confirmation"
	EventUpdate       EventType = "update"
	EventCorrection   EventType = "correction"
)

// TimelineEvent is one chronological event within a story. Events in a
// Story's timeline are sorted ascending by timestamp, and first_mention is
// always the earliest event when present.
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`   // When the event occurred
	Description string    `json:"description"` // What happened
	SourceURL   string    `json:"source_url"`  // Where it was reported
	EventType   EventType `json:"event_type"`  // Event classification
}

// Story is the terminal, immutable output for one cluster that survived
// scoring. Exactly one Story is created per such cluster.
type Story struct {
	ID              string          `json:"id"`                         // Story identifier
	Headline        string          `json:"headline"`                   // Concise story headline
	Hotness         HotnessScore    `json:"hotness"`                    // Full hotness judgment
	WhyNow          string          `json:"why_now"`                    // Why this matters right now
	Entities        []Entity        `json:"entities"`                   // Key entities, ordered by relevance
	Sources         []string        `json:"sources"`                    // Deduplicated source URLs
	Timeline        []TimelineEvent `json:"timeline"`                   // Chronological event sequence
	Draft           string          `json:"draft"`                      // Generated draft/report text
	ClusterID       string          `json:"cluster_id"`                 // Originating cluster
	ArticleCount    int             `json:"article_count"`              // Cluster member count
	HasDeepResearch bool            `json:"has_deep_research"`          // Whether deep research succeeded
	ResearchSummary string          `json:"research_summary,omitempty"` // Executive summary from deep research
	SocialPost      string          `json:"social_post,omitempty"`      // Short social media blurb
	CreatedAt       time.Time       `json:"created_at"`                 // When the story was built
}

// RunResult is one batch's worth of ranked stories plus run metadata.
type RunResult struct {
	Stories                []Story   `json:"stories"`                  // Ranked stories, hottest first
	TotalArticlesProcessed int       `json:"total_articles_processed"` // Articles collected for this run
	TimeWindowHours        int       `json:"time_window_hours"`        // Collection window
	DedupDegraded          bool      `json:"dedup_degraded"`           // True when embedding was unavailable for the whole batch
	GeneratedAt            time.Time `json:"generated_at"`             // When the run completed
	ProcessingTime         float64   `json:"processing_time_seconds"`  // Wall-clock processing time
}
