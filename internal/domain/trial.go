package domain

import "time"

// TrialOutcome is what the runner reports for a single trial, whether it
// produced output or crashed.
type TrialOutcome struct {
	ID             string
	Model          string
	Target         int
	Budget         int
	Progress       int
	TurnsUsed      int
	ToolCalls      int
	Cost           float64
	ExitCode       int
	TimedOut       bool
	Crashed        bool // no outcome file was produced
	OutcomePath    string
	TranscriptPath string
}

// TrialRecord is the persisted, append-only form of a trial outcome.
// Immutable once appended.
type TrialRecord struct {
	ID             string
	Iteration      int
	Model          string
	Target         int
	Budget         int
	Progress       int
	TurnsUsed      int
	ToolCalls      int
	Cost           float64
	Crashed        bool
	OutcomePath    string
	TranscriptPath string
	CreatedAt      time.Time
}

// RecordOf converts a runner outcome into its persisted record.
func RecordOf(o TrialOutcome, iteration int) TrialRecord {
	return TrialRecord{
		ID:             o.ID,
		Iteration:      iteration,
		Model:          o.Model,
		Target:         o.Target,
		Budget:         o.Budget,
		Progress:       o.Progress,
		TurnsUsed:      o.TurnsUsed,
		ToolCalls:      o.ToolCalls,
		Cost:           o.Cost,
		Crashed:        o.Crashed,
		OutcomePath:    o.OutcomePath,
		TranscriptPath: o.TranscriptPath,
		CreatedAt:      time.Now().UTC(),
	}
}

// BestProgress returns the best progress achieved across a batch.
func BestProgress(outcomes []TrialOutcome) int {
	best := 0
	for _, o := range outcomes {
		if !o.Crashed && o.Progress > best {
			best = o.Progress
		}
	}
	return best
}

// AnyOutput reports whether at least one trial in the batch produced an
// outcome file.
func AnyOutput(outcomes []TrialOutcome) bool {
	for _, o := range outcomes {
		if !o.Crashed {
			return true
		}
	}
	return false
}
