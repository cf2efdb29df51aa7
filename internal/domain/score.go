package domain

// CriterionScore is one judged criterion: a score in [0,1] and the judge's
// free-text rationale.
type CriterionScore struct {
	Score     float64
	Rationale string
}

// JudgeScore is the full judgment of one candidate artifact.
type JudgeScore struct {
	Criteria map[string]CriterionScore
	Combined float64
	Feedback string
}

// RolloutDigest is the bounded text summary derived from a sliding window
// of recent trials. Regenerated each iteration, never persisted.
type RolloutDigest struct {
	Text      string
	Trials    int
	Truncated bool
}
