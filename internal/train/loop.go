package train

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/promptgym-dev/promptgym/internal/curriculum"
	"github.com/promptgym-dev/promptgym/internal/digest"
	"github.com/promptgym-dev/promptgym/internal/domain"
	"github.com/promptgym-dev/promptgym/internal/optimize"
	"github.com/promptgym-dev/promptgym/internal/ports"
	"github.com/promptgym-dev/promptgym/internal/trajectory"
	"github.com/promptgym-dev/promptgym/internal/trial"
)

// ErrCircuitOpen halts the loop after too many consecutive crash-batches.
var ErrCircuitOpen = errors.New("too many consecutive crashed batches")

// BatchRunner is the trial execution surface the loop depends on.
type BatchRunner interface {
	RunBatch(ctx context.Context, spec trial.BatchSpec) ([]domain.TrialOutcome, error)
}

// Optimizer is the artifact revision surface the loop depends on.
type Optimizer interface {
	Optimize(ctx context.Context, current, digest string) (*optimize.Result, error)
}

// ArtifactRepo is the single-writer artifact surface.
type ArtifactRepo interface {
	Current() (string, error)
	Commit(content string, iteration int, model string) (string, error)
}

// Config holds the loop-level knobs.
type Config struct {
	MaxIterations    int
	BatchSize        int
	Window           int
	FailureThreshold int
}

// Loop is the outer iteration driver: curriculum -> batch -> parse ->
// digest -> optimize -> persist, strictly sequential across iterations.
type Loop struct {
	cfg        Config
	curriculum *curriculum.Curriculum
	runner     BatchRunner
	parser     *trajectory.Parser
	analyzer   *digest.Analyzer
	engine     Optimizer
	artifacts  ArtifactRepo
	store      ports.StateStore
}

func NewLoop(cfg Config, cur *curriculum.Curriculum, runner BatchRunner, analyzer *digest.Analyzer, engine Optimizer, artifacts ArtifactRepo, store ports.StateStore) *Loop {
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	return &Loop{
		cfg:        cfg,
		curriculum: cur,
		runner:     runner,
		parser:     &trajectory.Parser{},
		analyzer:   analyzer,
		engine:     engine,
		artifacts:  artifacts,
		store:      store,
	}
}

// Run drives iterations until the curriculum completes, the iteration cap
// is hit, the circuit breaker opens, or the context is cancelled. The
// current state is persisted before every return path.
func (l *Loop) Run(ctx context.Context) error {
	state, pos, err := l.resume(ctx)
	if err != nil {
		return err
	}

	for state.Iteration < l.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return l.halt(state, err)
		}

		model := l.curriculum.Model(pos)
		log.Printf("[train] iteration %d | model=%s | target=%d steps | budget=%d turns",
			state.Iteration, model, pos.Level.Target, pos.Level.Budget)

		outcomes, err := l.runner.RunBatch(ctx, trial.BatchSpec{
			Model:  model,
			Target: pos.Level.Target,
			Budget: pos.Level.Budget,
			N:      l.cfg.BatchSize,
		})
		if err != nil {
			return l.halt(state, fmt.Errorf("running batch: %w", err))
		}

		for _, o := range outcomes {
			rec := domain.RecordOf(o, state.Iteration)
			state.AppendTrial(rec)
			state.CumulativeCost += rec.Cost
			if err := l.store.AppendTrial(ctx, &rec); err != nil {
				log.Printf("[train] persisting trial %s: %v", rec.ID, err)
			}
		}

		if !domain.AnyOutput(outcomes) {
			state.ConsecutiveFailures++
			log.Printf("[train] batch produced no output files (%d consecutive)", state.ConsecutiveFailures)
			if state.ConsecutiveFailures >= l.cfg.FailureThreshold {
				return l.halt(state, ErrCircuitOpen)
			}
		} else {
			state.ConsecutiveFailures = 0
		}

		best := domain.BestProgress(outcomes)
		log.Printf("[train] best progress %d/%d", best, pos.Level.Target)

		var curErr error
		var advanced bool
		pos, advanced, curErr = l.curriculum.Advance(best, pos)
		if advanced {
			log.Printf("[train] ADVANCING: target now %d steps (budget %d)", pos.Level.Target, pos.Level.Budget)
		}
		l.syncState(state, pos)
		state.Iteration++

		if curErr != nil {
			// Curriculum exhausted: training complete.
			log.Printf("[train] curriculum complete after %d iterations", state.Iteration)
			return l.halt(state, nil)
		}

		if err := ctx.Err(); err != nil {
			return l.halt(state, err)
		}

		l.optimizeArtifact(ctx, state, model)

		if err := l.store.SaveState(ctx, state); err != nil {
			log.Printf("[train] persisting state: %v", err)
		}
	}

	log.Printf("[train] iteration cap reached (%d)", l.cfg.MaxIterations)
	return l.halt(state, nil)
}

// optimizeArtifact runs one digest+search pass and commits the winning
// candidate. Any failure here keeps the previous artifact and lets the
// loop continue; the iteration is recorded as errored only in the logs.
func (l *Loop) optimizeArtifact(ctx context.Context, state *domain.TrainingState, model string) {
	window := l.buildWindow(state)
	d := l.analyzer.Summarize(window)
	if d.Truncated {
		log.Printf("[train] digest truncated to ceiling")
	}

	current, err := l.artifacts.Current()
	if err != nil {
		log.Printf("[train] reading artifact: %v (skipping optimization)", err)
		return
	}

	res, err := l.engine.Optimize(ctx, current, d.Text)
	if err != nil {
		log.Printf("[train] optimization errored, keeping previous artifact: %v", err)
		return
	}
	if !res.Accepted {
		log.Printf("[train] no improved artifact this iteration (%d passes, %d rejected)", res.Passes, res.Rejected)
		return
	}

	backup, err := l.artifacts.Commit(res.Candidate, state.Iteration, model)
	if err != nil {
		log.Printf("[train] committing artifact: %v (previous version retained)", err)
		return
	}
	log.Printf("[train] wrote new artifact (%d chars, score %.3f, backup %s)", len(res.Candidate), res.Score, backup)
}

// buildWindow pairs the recent trial records with their parsed turns.
// Malformed or missing transcripts are skipped with a warning, never
// fatal.
func (l *Loop) buildWindow(state *domain.TrainingState) []digest.Trial {
	var window []digest.Trial
	for _, rec := range state.Window(l.cfg.Window) {
		t := digest.Trial{Record: rec}
		if rec.TranscriptPath != "" {
			raw, err := os.ReadFile(rec.TranscriptPath)
			if err == nil {
				turns, perr := l.parser.Parse(raw)
				if perr != nil {
					log.Printf("[train] skipping malformed transcript %s: %v", rec.TranscriptPath, perr)
				} else {
					t.Turns = turns
				}
			}
		}
		window = append(window, t)
	}
	return window
}

// resume loads the persisted snapshot or starts fresh.
func (l *Loop) resume(ctx context.Context) (*domain.TrainingState, curriculum.Position, error) {
	state, err := l.store.LoadState(ctx)
	if err != nil {
		return nil, curriculum.Position{}, fmt.Errorf("loading state: %w", err)
	}

	if state == nil {
		pos := l.curriculum.Start()
		state = domain.NewTrainingState(l.curriculum.Model(pos), pos.Level.Target, pos.Level.Budget)
		return state, pos, nil
	}

	log.Printf("[train] resuming at iteration %d (model=%s target=%d)", state.Iteration, state.Model, state.Target)
	pos := curriculum.Position{
		ModelIndex: state.ModelIndex,
		Level: curriculum.Level{
			Target:            state.Target,
			Budget:            state.Budget,
			ConsecutiveClears: state.ConsecutiveClears,
		},
	}
	return state, pos, nil
}

func (l *Loop) syncState(state *domain.TrainingState, pos curriculum.Position) {
	state.ModelIndex = pos.ModelIndex
	state.Model = l.curriculum.Model(pos)
	state.Target = pos.Level.Target
	state.Budget = pos.Level.Budget
	state.ConsecutiveClears = pos.Level.ConsecutiveClears
}

// halt persists the state before surfacing err. Operator interrupts and
// the circuit breaker both exit through here so no progress is lost.
func (l *Loop) halt(state *domain.TrainingState, err error) error {
	if serr := l.store.SaveState(context.Background(), state); serr != nil {
		log.Printf("[train] persisting state on exit: %v", serr)
	}
	return err
}
