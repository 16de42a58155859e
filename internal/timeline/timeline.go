// Package timeline orders and tags chronological events within a story.
package timeline

import (
	"sort"
	"strings"

	"radar/internal/core"
)

// Builder turns raw observations into an ordered, deduplicated event
// sequence. Observations are TimelineEvents whose EventType has not been
// assigned yet; any pre-existing type is overwritten.
type Builder struct {
	// SimilarityThreshold is the token-overlap ratio above which a later
	// event is considered to corroborate an earlier one.
	SimilarityThreshold float64
}

// NewBuilder creates a Builder with the default corroboration threshold.
func NewBuilder() *Builder {
	return &Builder{SimilarityThreshold: 0.5}
}

// correctionSignals are phrases that mark an event as an explicit correction.
// Matching is a heuristic, not a guarantee.
var correctionSignals = []string{
	"correction", "corrects", "corrected", "retraction", "retracts",
	"clarification", "clarifies", "updates earlier", "previously reported",
}

// Build sorts observations ascending by timestamp, collapses near-duplicates,
// and tags each event. The earliest event is first_mention; later events are
// confirmation when they corroborate a prior event, correction when the text
// carries an explicit correction signal, and update otherwise.
func (b *Builder) Build(observations []core.TimelineEvent) []core.TimelineEvent {
	if len(observations) == 0 {
		return nil
	}

	sorted := make([]core.TimelineEvent, len(observations))
	copy(sorted, observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var events []core.TimelineEvent
	for _, obs := range sorted {
		if obs.Description == "" {
			continue
		}
		if b.isNearDuplicate(obs, events) {
			continue
		}

		event := core.TimelineEvent{
			Timestamp:   obs.Timestamp,
			Description: obs.Description,
			SourceURL:   obs.SourceURL,
		}

		switch {
		case len(events) == 0:
			event.EventType = core.EventFirstMention
		case hasCorrectionSignal(obs.Description):
			event.EventType = core.EventCorrection
		case b.corroborates(obs.Description, events):
			event.EventType = core.EventConfirmation
		default:
			event.EventType = core.EventUpdate
		}

		events = append(events, event)
	}

	return events
}

// isNearDuplicate reports whether the observation repeats a prior event from
// the same source with near-identical text.
func (b *Builder) isNearDuplicate(obs core.TimelineEvent, events []core.TimelineEvent) bool {
	for _, e := range events {
		if e.SourceURL != obs.SourceURL {
			continue
		}
		if tokenOverlap(obs.Description, e.Description) >= 0.9 {
			return true
		}
	}
	return false
}

// corroborates reports whether the text approximately matches any prior event.
func (b *Builder) corroborates(text string, events []core.TimelineEvent) bool {
	for _, e := range events {
		if tokenOverlap(text, e.Description) >= b.SimilarityThreshold {
			return true
		}
	}
	return false
}

func hasCorrectionSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, signal := range correctionSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

// tokenOverlap computes the Jaccard overlap of lowercase word sets.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]")
		if len(token) > 2 {
			tokens[token] = true
		}
	}
	return tokens
}
