package digest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/promptgym-dev/promptgym/internal/domain"
)

// TruncationMarker terminates any digest cut down to the ceiling.
const TruncationMarker = "\n... (truncated)"

// Trial pairs a persisted trial record with its parsed turns. Turns may be
// nil when the transcript was missing or malformed.
type Trial struct {
	Record domain.TrialRecord
	Turns  []domain.TurnRecord
}

// Analyzer aggregates a sliding window of recent trials into a bounded
// text digest for the optimization engine.
type Analyzer struct {
	FieldCap int // per-field truncation applied before aggregation
	Ceiling  int // hard cap on the assembled digest
}

// Summarize builds the digest. With no trial data it degrades to a fixed
// synthetic digest so the engine always receives well-formed input.
func (a *Analyzer) Summarize(window []Trial) domain.RolloutDigest {
	if len(window) == 0 {
		return a.bound(domain.RolloutDigest{Text: syntheticDigest})
	}

	var sections []string
	sections = append(sections, a.runSummaries(window))

	if turns := a.turnBreakdown(window); turns != "" {
		sections = append(sections, turns)
	}
	if wasted := a.wastedEffort(window); wasted != "" {
		sections = append(sections, wasted)
	}
	if hist := a.toolHistogram(window); hist != "" {
		sections = append(sections, hist)
	}

	return a.bound(domain.RolloutDigest{
		Text:   strings.Join(sections, "\n\n"),
		Trials: len(window),
	})
}

func (a *Analyzer) runSummaries(window []Trial) string {
	lines := []string{"RUN SUMMARIES:"}
	for _, t := range window {
		r := t.Record
		if r.Crashed {
			lines = append(lines, fmt.Sprintf(
				"run %s: CRASHED (no outcome file), target=%d, budget=%d", r.ID, r.Target, r.Budget))
			continue
		}
		lines = append(lines, fmt.Sprintf(
			"run %s: steps=%d/%d, turns=%d/%d, tool_calls=%d, cost=$%.2f",
			r.ID, r.Progress, r.Target, r.TurnsUsed, r.Budget, r.ToolCalls, r.Cost))
	}
	return strings.Join(lines, "\n")
}

func (a *Analyzer) turnBreakdown(window []Trial) string {
	lines := []string{"PER-TURN BREAKDOWN:"}
	any := false
	for _, t := range window {
		for _, turn := range t.Turns {
			any = true
			names := make([]string, len(turn.ToolCalls))
			for i, tc := range turn.ToolCalls {
				names[i] = tc.Name
			}
			line := fmt.Sprintf("run %s turn %d [%s]: tools=%s errors=%d",
				t.Record.ID, turn.Index, turn.Status, strings.Join(names, ","), len(turn.Errors))
			if turn.Reasoning != "" {
				line += " | " + a.capField(turn.Reasoning)
			}
			lines = append(lines, line)
		}
	}
	if !any {
		return ""
	}
	return strings.Join(lines, "\n")
}

// wastedEffort lists turns that burned more than one error before moving
// on, the prime targets for prompt fixes.
func (a *Analyzer) wastedEffort(window []Trial) string {
	lines := []string{"WASTED EFFORT (turns with >1 error):"}
	any := false
	for _, t := range window {
		for _, turn := range t.Turns {
			if len(turn.Errors) <= 1 {
				continue
			}
			any = true
			lines = append(lines, fmt.Sprintf("run %s turn %d: %d errors", t.Record.ID, turn.Index, len(turn.Errors)))
			for _, e := range turn.Errors {
				lines = append(lines, "  - "+a.capField(e))
			}
		}
	}
	if !any {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (a *Analyzer) toolHistogram(window []Trial) string {
	type toolStat struct {
		name   string
		calls  int
		errors int
	}
	stats := map[string]*toolStat{}
	for _, t := range window {
		for _, turn := range t.Turns {
			for _, tc := range turn.ToolCalls {
				s, ok := stats[tc.Name]
				if !ok {
					s = &toolStat{name: tc.Name}
					stats[tc.Name] = s
				}
				s.calls++
				if turn.Status == domain.TurnFail {
					s.errors++
				}
			}
		}
	}
	if len(stats) == 0 {
		return ""
	}

	ordered := make([]*toolStat, 0, len(stats))
	for _, s := range stats {
		ordered = append(ordered, s)
	}
	// call count descending, name ascending for a stable ordering
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].calls != ordered[j].calls {
			return ordered[i].calls > ordered[j].calls
		}
		return ordered[i].name < ordered[j].name
	})

	lines := []string{"TOOL USAGE:"}
	for _, s := range ordered {
		lines = append(lines, fmt.Sprintf("%s: %d calls, %d in failed turns", s.name, s.calls, s.errors))
	}
	return strings.Join(lines, "\n")
}

func (a *Analyzer) capField(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if a.FieldCap > 0 && len(s) > a.FieldCap {
		return s[:a.FieldCap] + "..."
	}
	return s
}

// bound enforces the hard ceiling, truncating the tail so the earliest
// content survives.
func (a *Analyzer) bound(d domain.RolloutDigest) domain.RolloutDigest {
	if a.Ceiling <= 0 || len(d.Text) <= a.Ceiling {
		return d
	}
	keep := a.Ceiling - len(TruncationMarker)
	if keep < 0 {
		keep = 0
	}
	d.Text = d.Text[:keep] + TruncationMarker
	d.Truncated = true
	return d
}

// syntheticDigest is the cold-start input handed to the engine before any
// trial has run.
const syntheticDigest = `RUN SUMMARIES:
run synthetic-1: steps=15/30, turns=45/150, tool_calls=60, cost=$3.50
run synthetic-2: steps=22/30, turns=55/150, tool_calls=80, cost=$4.20

WASTED EFFORT (turns with >1 error):
run synthetic-1 turn 4: 2 errors
  - error: ref e5 not found (stale refs after page transition)
  - error: dialog blocked page interaction

TOOL USAGE:
snapshot: 24 calls, 9 in failed turns
click: 18 calls, 4 in failed turns
evaluate: 12 calls, 1 in failed turns`
