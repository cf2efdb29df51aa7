package domain

// TrainingState is the controller's persisted snapshot. It is created once
// (fresh) or loaded from the store, mutated exactly once per iteration, and
// persisted at iteration end.
type TrainingState struct {
	Iteration           int
	ModelIndex          int
	Model               string
	Target              int
	Budget              int
	ConsecutiveClears   int
	ConsecutiveFailures int
	CumulativeCost      float64
	History             []TrialRecord
}

// NewTrainingState returns a fresh state at the given starting level.
func NewTrainingState(model string, target, budget int) *TrainingState {
	return &TrainingState{
		Model:  model,
		Target: target,
		Budget: budget,
	}
}

// AppendTrial adds a completed trial to the in-memory history.
func (s *TrainingState) AppendTrial(rec TrialRecord) {
	s.History = append(s.History, rec)
}

// Window returns up to the last n trial records, oldest first.
func (s *TrainingState) Window(n int) []TrialRecord {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
