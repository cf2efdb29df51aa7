package optimize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/promptgym-dev/promptgym/internal/domain"
	"github.com/promptgym-dev/promptgym/internal/ports"
)

// Criterion is one named judging axis with its fixed weight. Weights
// across a rubric sum to 1.
type Criterion struct {
	Name   string
	Weight float64
	Desc   string
}

// DefaultRubric scores candidate prompts for the browser-agent trainer.
func DefaultRubric() []Criterion {
	return []Criterion{
		{"FAILURE_COVERAGE", 0.30, "Does the improved prompt address failures from the trajectory digest?"},
		{"PATTERN_PRESERVATION", 0.20, "Are successful patterns preserved?"},
		{"NO_HARDCODED", 0.10, "No hardcoded codes or instance-specific data?"},
		{"EFFICIENCY", 0.25, "Does the prompt minimize turns per step and avoid wasteful diagnostic calls?"},
		{"SPEED", 0.15, "Is the prompt concise, guiding the agent to act immediately rather than deliberate?"},
	}
}

// JudgeScorer asks an LLM to grade a candidate and parses its free-text
// response. The only grammar assumed is one "NAME: <float> - <rationale>"
// line per criterion; anything missing or unparseable scores neutral 0.5.
type JudgeScorer struct {
	LLM    ports.LLMClient
	Rubric []Criterion
}

const judgeSystemPrompt = `You evaluate an improved system prompt for a browser automation agent.
Score each criterion from 0.0 to 1.0 with specific reasoning.
Format EXACTLY one line per criterion as:
CRITERION_NAME: <float> - <reasoning>
Then a final line:
SUGGESTIONS: <specific improvements>`

// Score judges candidate against current given the digest.
func (j *JudgeScorer) Score(ctx context.Context, digest, current, candidate string) (*domain.JudgeScore, error) {
	var sb strings.Builder
	sb.WriteString("TRAJECTORY DIGEST (what happened during recent trials):\n")
	sb.WriteString(head(digest, 8000))
	sb.WriteString("\n\nORIGINAL PROMPT:\n")
	sb.WriteString(head(current, 3000))
	sb.WriteString("\n\nIMPROVED PROMPT:\n")
	sb.WriteString(head(candidate, 8000))
	sb.WriteString("\n\nCriteria to evaluate:\n")
	for i, c := range j.Rubric {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, c.Name, c.Desc)
	}

	response, err := j.LLM.Complete(ctx, judgeSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("judge call: %w", err)
	}

	return ParseJudgeResponse(response, j.Rubric), nil
}

// ParseJudgeResponse extracts per-criterion scores from the judge's
// output. Missing criteria default to a neutral 0.5; scores are clamped
// to [0,1]. With rubric weights summing to 1 the combined score is also
// in [0,1].
func ParseJudgeResponse(response string, rubric []Criterion) *domain.JudgeScore {
	score := &domain.JudgeScore{
		Criteria: make(map[string]domain.CriterionScore, len(rubric)),
		Feedback: response,
	}

	for _, c := range rubric {
		re := regexp.MustCompile(`(?mi)^\s*` + regexp.QuoteMeta(c.Name) + `:\s*([0-9.]+)\s*-?\s*(.*)$`)
		cs := domain.CriterionScore{Score: 0.5, Rationale: "no parseable score, defaulted to neutral"}
		if m := re.FindStringSubmatch(response); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				cs = domain.CriterionScore{Score: clamp01(v), Rationale: strings.TrimSpace(m[2])}
			}
		}
		score.Criteria[c.Name] = cs
		score.Combined += cs.Score * c.Weight
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
