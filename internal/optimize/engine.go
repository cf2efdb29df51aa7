package optimize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/promptgym-dev/promptgym/internal/ports"
)

const proposerSystemPrompt = `You improve a browser automation agent's system prompt based on a digest of its recent trials.

Analyze the digest to identify which patterns failed and why, which patterns worked, and where the agent wasted turns. Then produce an improved prompt that:
- Fixes failure patterns with concrete solutions
- Preserves and reinforces successful patterns
- Minimizes turns per step and avoids wasteful diagnostic calls
- Stays concise (every extra token costs money on every call)
- NEVER includes hardcoded codes, passwords, or instance-specific data

Output ONLY the complete improved prompt text. It must be self-contained, not a diff, with no surrounding commentary.`

// searchState is the warm-start state carried across controller runs.
type searchState struct {
	BestScore    float64 `json:"best_score"`
	Passes       int     `json:"passes"`
	LastFeedback string  `json:"last_feedback"`
}

// Result is the outcome of one optimization call.
type Result struct {
	Candidate string
	Score     float64
	Passes    int
	Rejected  int // degenerate candidates discarded by the guard
	Accepted  bool
}

// Engine performs the reflective propose-judge search over candidate
// artifact revisions. One Optimize call spends at most MaxPasses
// propose+judge rounds and returns the best candidate found; judge
// feedback from each pass seeds the next proposal.
type Engine struct {
	Proposer  ports.LLMClient
	Scorer    ports.Scorer
	MaxPasses int
	StatePath string // warm-start state file; empty disables persistence

	Retries int
	Backoff time.Duration
}

// Optimize proposes and scores candidate revisions of the current
// artifact. It never writes the artifact itself; callers commit the
// candidate only when Accepted is true.
func (e *Engine) Optimize(ctx context.Context, current, digest string) (*Result, error) {
	state := e.loadState()
	res := &Result{}
	retries := e.Retries
	if retries <= 0 {
		retries = 2
	}
	backoff := e.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	feedback := state.LastFeedback
	var bestScore float64

	for pass := 0; pass < e.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			break
		}
		res.Passes++
		state.Passes++

		user := buildProposalInput(digest, current, feedback)
		var candidate string
		err := withRetry(ctx, retries, backoff, func() error {
			var cerr error
			candidate, cerr = e.Proposer.Complete(ctx, proposerSystemPrompt, user)
			return cerr
		})
		if err != nil {
			log.Printf("[optimize] pass %d proposal failed: %v", pass+1, err)
			continue
		}

		if IsDegenerate(candidate) {
			res.Rejected++
			log.Printf("[optimize] pass %d rejected degenerate candidate (leading text matches meta denylist)", pass+1)
			continue
		}

		var score float64
		err = withRetry(ctx, retries, backoff, func() error {
			js, serr := e.Scorer.Score(ctx, digest, current, candidate)
			if serr != nil {
				return serr
			}
			score = js.Combined
			feedback = js.Feedback
			return nil
		})
		if err != nil {
			log.Printf("[optimize] pass %d judge failed: %v", pass+1, err)
			continue
		}

		log.Printf("[optimize] pass %d scored %.3f (best so far %.3f)", pass+1, score, bestScore)
		if res.Candidate == "" || score > bestScore {
			bestScore = score
			res.Candidate = candidate
			res.Score = score
		}
	}

	if res.Candidate == "" {
		e.saveState(state)
		return res, fmt.Errorf("no candidate survived %d passes", res.Passes)
	}

	res.Accepted = res.Candidate != current
	if res.Score > state.BestScore {
		state.BestScore = res.Score
	}
	state.LastFeedback = feedback
	e.saveState(state)
	return res, nil
}

func buildProposalInput(digest, current, feedback string) string {
	input := "## Trajectory Digest\n" + digest + "\n\n## Current Prompt\n" + current
	if feedback != "" {
		input += "\n\n## Judge Feedback On The Previous Attempt\n" + head(feedback, 4000)
	}
	return input
}

func (e *Engine) loadState() *searchState {
	state := &searchState{}
	if e.StatePath == "" {
		return state
	}
	data, err := os.ReadFile(e.StatePath)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, state); err != nil {
		log.Printf("[optimize] discarding unreadable search state: %v", err)
		return &searchState{}
	}
	return state
}

func (e *Engine) saveState(state *searchState) {
	if e.StatePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(e.StatePath), 0755); err != nil {
		log.Printf("[optimize] saving search state: %v", err)
		return
	}
	data, _ := json.MarshalIndent(state, "", "  ")
	if err := os.WriteFile(e.StatePath, data, 0644); err != nil {
		log.Printf("[optimize] saving search state: %v", err)
	}
}
