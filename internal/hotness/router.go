package hotness

// Tier is the processing tier selected for a cluster.
type Tier string

const (
	// TierSimple builds a lightweight story without deep research.
	TierSimple Tier = "simple"
	// TierDeep builds a full story backed by deep research.
	TierDeep Tier = "deep"
)

// Route maps an overall hotness score to a processing tier. DEEP iff
// overall >= threshold; otherwise SIMPLE. Pure function, no side effects:
// the cost/quality trade-off stays independently testable and tunable.
func Route(overall, threshold float64) Tier {
	if overall >= threshold {
		return TierDeep
	}
	return TierSimple
}
