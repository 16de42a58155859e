// Package llm wraps the Gemini API behind the oracle interfaces the domain
// packages depend on: embedding, hotness scoring, summary drafting, and the
// planning/synthesis halves of deep research.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/genai"

	"radar/internal/core"
	"radar/internal/hotness"
	"radar/internal/research"
	"radar/internal/story"
)

const (
	// DefaultModel is the default Gemini model for scoring and drafting.
	DefaultModel = "gemini-flash-lite-latest"
	// ResearchModel is the larger model used for report synthesis.
	ResearchModel = "gemini-flash-latest"
	// DefaultEmbeddingModel is the default model for generating embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)
)

// Client is a Gemini-backed implementation of the pipeline's oracles.
type Client struct {
	apiKey        string
	modelName     string
	researchModel string
	gClient       *genai.Client
}

// NewClient creates a new LLM client.
// It supports multiple ways to get the API key (in order of preference):
// 1. Environment variable: GEMINI_API_KEY (or alternatives)
// 2. Viper configuration: ai.gemini.api_key
func NewClient(ctx context.Context, modelName string) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		if apiKey = os.Getenv("GOOGLE_GEMINI_API_KEY"); apiKey == "" {
			if apiKey = os.Getenv("GOOGLE_API_KEY"); apiKey == "" {
				apiKey = viper.GetString("ai.gemini.api_key")
			}
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file.\nGet your API key from: https://aistudio.google.com/apikey")
	}

	if modelName == "" {
		modelName = viper.GetString("ai.gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}
	researchModel := viper.GetString("ai.gemini.research_model")
	if researchModel == "" {
		researchModel = ResearchModel
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		apiKey:        apiKey,
		modelName:     modelName,
		researchModel: researchModel,
		gClient:       gClient,
	}, nil
}

// generateJSON runs one structured-output generation and unmarshals the
// response into out.
func (c *Client) generateJSON(ctx context.Context, modelName, prompt string, schema *genai.Schema, out any) error {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return fmt.Errorf("empty response from model")
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse structured response: %w", err)
	}
	return nil
}

// generateText runs one free-form generation and returns the trimmed text.
func (c *Client) generateText(ctx context.Context, modelName, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// Embed generates a vector embedding for the given text.
// Uses gemini-embedding-001 with Matryoshka to output 768 dimensions.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	dims := DefaultEmbeddingDimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, DefaultEmbeddingModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding values returned from API")
	}

	// Convert float32 to float64
	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}

	return embedding, nil
}

var hotnessSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"unexpectedness": {Type: genai.TypeNumber, Description: "How surprising relative to market consensus, 0.0-1.0"},
		"materiality":    {Type: genai.TypeNumber, Description: "Potential impact on price, volatility, or liquidity, 0.0-1.0"},
		"velocity":       {Type: genai.TypeNumber, Description: "How fast the story is spreading, 0.0-1.0"},
		"breadth":        {Type: genai.TypeNumber, Description: "How many assets or sectors are affected, 0.0-1.0"},
		"credibility":    {Type: genai.TypeNumber, Description: "Source reputation and confirmation level, 0.0-1.0"},
		"overall":        {Type: genai.TypeNumber, Description: "Composite hotness if you can judge it directly, 0.0-1.0"},
		"rationale":      {Type: genai.TypeString, Description: "One or two sentences explaining the scores"},
	},
	Required: []string{"unexpectedness", "materiality", "velocity", "breadth", "credibility", "rationale"},
}

const hotnessPromptTemplate = `You are a financial news analyst. Judge how "hot" the following news story is for traders and investors right now.

Headline: %s
Reported by %d article(s) across these sources: %s

Story content:
---
%s
---

Score each dimension from 0.0 to 1.0.`

// ScoreHotness judges one cluster summary. Implements hotness.ScoringOracle.
func (c *Client) ScoreHotness(ctx context.Context, summary hotness.ClusterSummary) (*hotness.OracleScore, error) {
	prompt := fmt.Sprintf(hotnessPromptTemplate,
		summary.Headline, summary.MemberCount, strings.Join(summary.Sources, ", "), summary.RepresentativeText)

	var parsed struct {
		Unexpectedness float64  `json:"unexpectedness"`
		Materiality    float64  `json:"materiality"`
		Velocity       float64  `json:"velocity"`
		Breadth        float64  `json:"breadth"`
		Credibility    float64  `json:"credibility"`
		Overall        *float64 `json:"overall"`
		Rationale      string   `json:"rationale"`
	}
	if err := c.generateJSON(ctx, c.modelName, prompt, hotnessSchema, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", hotness.ErrScoringUnavailable, err)
	}

	return &hotness.OracleScore{
		Unexpectedness: parsed.Unexpectedness,
		Materiality:    parsed.Materiality,
		Velocity:       parsed.Velocity,
		Breadth:        parsed.Breadth,
		Credibility:    parsed.Credibility,
		Overall:        parsed.Overall,
		Rationale:      parsed.Rationale,
	}, nil
}

var draftSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"headline": {Type: genai.TypeString, Description: "Concise headline, at most 12 words"},
		"why_now":  {Type: genai.TypeString, Description: "One or two sentences on why this matters right now"},
		"entities": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":      {Type: genai.TypeString},
					"category":  {Type: genai.TypeString, Enum: []string{"company", "ticker", "sector", "country", "person"}},
					"relevance": {Type: genai.TypeNumber, Description: "Relevance to the story, 0.0-1.0"},
					"ticker":    {Type: genai.TypeString, Description: "Ticker symbol when known, else empty"},
				},
				Required: []string{"name", "category", "relevance"},
			},
		},
		"social_post": {Type: genai.TypeString, Description: "Social media post under 280 characters with hashtags derived from tickers"},
	},
	Required: []string{"headline", "why_now", "entities", "social_post"},
}

const draftPromptTemplate = `You are a financial news editor. Write a tight summary of the following story for a market-monitoring dashboard.

Primary article: %s

%s

Other headlines reporting the same story:
%s

Extract the key financial entities (companies, tickers, sectors, countries, people), ordered by relevance.
Also write a social media post under 280 characters, with hashtags built from the ticker symbols.`

// DraftSummary produces the short summary for a cluster. Implements
// story.DraftingOracle.
func (c *Client) DraftSummary(ctx context.Context, cluster core.Cluster) (*story.SummaryDraft, error) {
	rep := cluster.Representative()
	content := core.Truncate(rep.Content, 3000)

	var others []string
	for _, a := range cluster.Articles {
		if a.ID != rep.ID && a.Title != "" {
			others = append(others, "- "+a.Title)
		}
	}
	otherTitles := "(none)"
	if len(others) > 0 {
		otherTitles = strings.Join(others, "\n")
	}

	prompt := fmt.Sprintf(draftPromptTemplate, rep.Title, content, otherTitles)

	var parsed struct {
		Headline string `json:"headline"`
		WhyNow   string `json:"why_now"`
		Entities []struct {
			Name      string  `json:"name"`
			Category  string  `json:"category"`
			Relevance float64 `json:"relevance"`
			Ticker    string  `json:"ticker"`
		} `json:"entities"`
		SocialPost string `json:"social_post"`
	}
	if err := c.generateJSON(ctx, c.modelName, prompt, draftSchema, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", story.ErrDraftingUnavailable, err)
	}

	draft := &story.SummaryDraft{
		Headline:   parsed.Headline,
		WhyNow:     parsed.WhyNow,
		SocialPost: parsed.SocialPost,
	}
	for _, e := range parsed.Entities {
		draft.Entities = append(draft.Entities, core.Entity{
			Name:      e.Name,
			Category:  core.EntityCategory(e.Category),
			Relevance: e.Relevance,
			Ticker:    e.Ticker,
		})
	}
	return draft, nil
}

const articlePromptTemplate = `You are a financial news editor creating a publication-ready article draft.

Story headline: %s

Why this matters now: %s

Key entities: %s

Timeline:
%s
Source materials:
%s
Analysis context: %s

Write a professional financial news article with a compelling headline, a lead paragraph of 2-3 sentences capturing the core story and its immediate implications, three bulleted key points, a short market context paragraph, a summary of what is confirmed so far, and the source URLs referenced.

Requirements:
- Be factual and precise, citing specific numbers, dates, and entities
- Avoid speculation and stick to what the sources confirm
- Use a professional financial journalism tone
- Keep it concise, 300-400 words`

// DraftArticle writes the full publication draft for a story.
// Implements story.ArticleDrafter.
func (c *Client) DraftArticle(ctx context.Context, input story.ArticleInput) (string, error) {
	var parts []string
	for i, e := range input.Entities {
		if i >= 10 {
			break
		}
		part := fmt.Sprintf("%s (%s)", e.Name, e.Category)
		if e.Ticker != "" {
			part += " [" + e.Ticker + "]"
		}
		parts = append(parts, part)
	}
	entityList := "(none)"
	if len(parts) > 0 {
		entityList = strings.Join(parts, ", ")
	}

	var timelineText strings.Builder
	for i, e := range input.Timeline {
		if i >= 5 {
			break
		}
		timelineText.WriteString(fmt.Sprintf("- %s: %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Description))
	}
	if timelineText.Len() == 0 {
		timelineText.WriteString("(none)\n")
	}

	var materials strings.Builder
	for i, a := range input.Articles {
		if i >= 5 {
			break
		}
		materials.WriteString(fmt.Sprintf("Source %d (%s):\n%s\n%s\nURL: %s\n\n",
			i+1, a.Source, a.Title, core.Truncate(a.Content, 300), a.URL))
	}

	prompt := fmt.Sprintf(articlePromptTemplate,
		input.Headline, input.WhyNow, entityList, timelineText.String(), materials.String(), input.Rationale)

	text, err := c.generateText(ctx, c.modelName, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", story.ErrDraftingUnavailable, err)
	}
	return text, nil
}

var subQuerySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"queries": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "Two to four focused web search queries",
		},
	},
	Required: []string{"queries"},
}

// PlanSubQueries decomposes a research topic into focused search queries.
// Implements research.Planner.
func (c *Client) PlanSubQueries(ctx context.Context, topic string) ([]string, error) {
	prompt := fmt.Sprintf(`Decompose the following financial news topic into 2-4 focused web search queries that together cover background, latest developments, and market reaction:

Topic: %s`, topic)

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := c.generateJSON(ctx, c.modelName, prompt, subQuerySchema, &parsed); err != nil {
		return nil, err
	}
	return parsed.Queries, nil
}

var reportSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"report_text": {Type: genai.TypeString, Description: "Markdown research report with Background, Current Developments, Market Impact, and Outlook sections"},
		"summary":     {Type: genai.TypeString, Description: "Two to three sentence executive summary"},
		"source_urls": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"timeline": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"timestamp":   {Type: genai.TypeString, Description: "RFC 3339 timestamp, best estimate"},
					"description": {Type: genai.TypeString},
					"source_url":  {Type: genai.TypeString},
				},
				Required: []string{"timestamp", "description"},
			},
			Description: "Chronological events discovered during research",
		},
	},
	Required: []string{"report_text", "summary", "source_urls"},
}

const reportPromptTemplate = `You are a financial research analyst. Write a research report on the following topic using only the evidence provided.

Topic: %s

Sub-questions investigated:
%s

Evidence:
%s

Cite source URLs from the evidence in source_urls. List any concrete dated events you can identify in the timeline.`

// SynthesizeReport turns collected sources into a research report.
// Implements research.Synthesizer.
func (c *Client) SynthesizeReport(ctx context.Context, topic string, sources []research.Source, subQueries []string) (*story.ResearchReport, error) {
	var evidence strings.Builder
	for i, s := range sources {
		evidence.WriteString(fmt.Sprintf("[%d] %s (%s)\n", i+1, s.Title, s.URL))
		if !s.PublishedAt.IsZero() {
			evidence.WriteString("    Published: " + s.PublishedAt.Format("2006-01-02") + "\n")
		}
		evidence.WriteString("    " + s.Snippet + "\n\n")
	}

	var questions strings.Builder
	for _, q := range subQueries {
		questions.WriteString("- " + q + "\n")
	}

	prompt := fmt.Sprintf(reportPromptTemplate, topic, questions.String(), evidence.String())

	var parsed struct {
		ReportText string   `json:"report_text"`
		Summary    string   `json:"summary"`
		SourceURLs []string `json:"source_urls"`
		Timeline   []struct {
			Timestamp   string `json:"timestamp"`
			Description string `json:"description"`
			SourceURL   string `json:"source_url"`
		} `json:"timeline"`
	}
	if err := c.generateJSON(ctx, c.researchModel, prompt, reportSchema, &parsed); err != nil {
		return nil, err
	}

	report := &story.ResearchReport{
		ReportText: parsed.ReportText,
		Summary:    parsed.Summary,
		SourceURLs: parsed.SourceURLs,
	}
	for _, e := range parsed.Timeline {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			if ts, err = time.Parse("2006-01-02", e.Timestamp); err != nil {
				continue
			}
		}
		report.TimelineCandidates = append(report.TimelineCandidates, core.TimelineEvent{
			Timestamp:   ts.UTC(),
			Description: e.Description,
			SourceURL:   e.SourceURL,
		})
	}
	return report, nil
}
