package optimize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgym-dev/promptgym/internal/domain"
)

// seqLLM replays canned responses in order.
type seqLLM struct {
	responses []string
	calls     int
}

func (s *seqLLM) Complete(ctx context.Context, system, user string) (string, error) {
	if s.calls >= len(s.responses) {
		return "", errors.New("no more responses")
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

// fixedScorer returns preset combined scores in order.
type fixedScorer struct {
	scores []float64
	calls  int
}

func (f *fixedScorer) Score(ctx context.Context, digest, current, candidate string) (*domain.JudgeScore, error) {
	if f.calls >= len(f.scores) {
		return nil, errors.New("no more scores")
	}
	s := f.scores[f.calls]
	f.calls++
	return &domain.JudgeScore{Combined: s, Feedback: "feedback"}, nil
}

func newTestEngine(t *testing.T, proposer *seqLLM, scorer *fixedScorer, passes int) *Engine {
	t.Helper()
	return &Engine{
		Proposer:  proposer,
		Scorer:    scorer,
		MaxPasses: passes,
		StatePath: filepath.Join(t.TempDir(), "search_state.json"),
		Retries:   1,
		Backoff:   time.Millisecond,
	}
}

func TestOptimizeKeepsBestCandidate(t *testing.T) {
	proposer := &seqLLM{responses: []string{"prompt v1", "prompt v2", "prompt v3"}}
	scorer := &fixedScorer{scores: []float64{0.4, 0.8, 0.6}}
	e := newTestEngine(t, proposer, scorer, 3)

	res, err := e.Optimize(context.Background(), "old prompt", "digest")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "prompt v2", res.Candidate)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.Equal(t, 3, res.Passes)
}

func TestOptimizeRespectsBudgetCap(t *testing.T) {
	proposer := &seqLLM{responses: []string{"a", "b", "c", "d", "e"}}
	scorer := &fixedScorer{scores: []float64{0.5, 0.5, 0.5, 0.5, 0.5}}
	e := newTestEngine(t, proposer, scorer, 2)

	res, err := e.Optimize(context.Background(), "old", "digest")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Passes)
	assert.Equal(t, 2, proposer.calls)
	assert.Equal(t, 2, scorer.calls)
}

// A candidate opening with a meta marker phrase is rejected; the previous
// artifact must survive the iteration.
func TestOptimizeRejectsDegenerateCandidates(t *testing.T) {
	proposer := &seqLLM{responses: []string{
		"Here is the improved prompt:\nYou are a browser agent...",
		"You are a browser agent. Act decisively.",
	}}
	scorer := &fixedScorer{scores: []float64{0.9}}
	e := newTestEngine(t, proposer, scorer, 2)

	res, err := e.Optimize(context.Background(), "old", "digest")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, "You are a browser agent. Act decisively.", res.Candidate)
	assert.Equal(t, 1, scorer.calls, "degenerate candidates are never judged")
}

func TestOptimizeAllDegenerateIsAnError(t *testing.T) {
	proposer := &seqLLM{responses: []string{
		"Here is your new prompt.",
		"Below is the revised version.",
	}}
	e := newTestEngine(t, proposer, &fixedScorer{}, 2)

	res, err := e.Optimize(context.Background(), "old", "digest")
	assert.Error(t, err)
	assert.False(t, res.Accepted)
	assert.Empty(t, res.Candidate)
	assert.Equal(t, 2, res.Rejected)
}

func TestOptimizeProposerFailureIsNonFatalPerPass(t *testing.T) {
	// the single retry fails the first pass; the second pass succeeds
	scorer := &fixedScorer{scores: []float64{0.7}}
	e := newTestEngine(t, &seqLLM{}, scorer, 2)
	e.Proposer = &flakyLLM{failFirst: 1, response: "good prompt"}

	res, err := e.Optimize(context.Background(), "old", "digest")
	require.NoError(t, err)
	assert.Equal(t, "good prompt", res.Candidate)
	assert.Equal(t, 2, res.Passes)
}

type flakyLLM struct {
	failFirst int
	calls     int
	response  string
}

func (f *flakyLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return "", errors.New("transient failure")
	}
	return f.response, nil
}

func TestOptimizeSavesAndReloadsSearchState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "search_state.json")

	e := &Engine{
		Proposer:  &seqLLM{responses: []string{"v1"}},
		Scorer:    &fixedScorer{scores: []float64{0.8}},
		MaxPasses: 1,
		StatePath: statePath,
		Retries:   1,
		Backoff:   time.Millisecond,
	}
	_, err := e.Optimize(context.Background(), "old", "digest")
	require.NoError(t, err)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "best_score")

	// A fresh engine warm-starts from the saved state and feeds the prior
	// judge feedback into its first proposal.
	recorder := &recordingLLM{response: "v2"}
	e2 := &Engine{
		Proposer:  recorder,
		Scorer:    &fixedScorer{scores: []float64{0.3}},
		MaxPasses: 1,
		StatePath: statePath,
		Retries:   1,
		Backoff:   time.Millisecond,
	}
	_, err = e2.Optimize(context.Background(), "old", "digest")
	require.NoError(t, err)
	assert.Contains(t, recorder.lastUser, "Judge Feedback")
}

type recordingLLM struct {
	response string
	lastUser string
}

func (r *recordingLLM) Complete(ctx context.Context, system, user string) (string, error) {
	r.lastUser = user
	return r.response, nil
}

func TestIsDegenerate(t *testing.T) {
	tests := []struct {
		candidate  string
		degenerate bool
	}{
		{"Here is the improved prompt: ...", true},
		{"here's the updated version", true},
		{"Below is your new system prompt", true},
		{"I've updated the prompt to handle dialogs", true},
		{"The improved prompt follows.", true},
		{"As an AI, I would suggest...", true},
		{"", true},
		{"   \n\t  ", true},
		{"You are a browser automation agent. Handle dialogs first.", false},
		{"# System\nAct decisively and minimize tool calls.", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.degenerate, IsDegenerate(tt.candidate), "candidate %q", tt.candidate)
	}
}
