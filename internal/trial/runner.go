package trial

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptgym-dev/promptgym/internal/domain"
	"github.com/promptgym-dev/promptgym/internal/ports"
)

// Config tells the runner how to launch and contain trials.
type Config struct {
	Command      []string      // agent command line, run from ProjectDir
	ProjectDir   string        // agent source checkout
	RunsDir      string        // persistent outputs: outcome_<id>.json, transcript_<id>.json
	TrialsDir    string        // per-trial scratch dirs, destroyed at trial end
	ArtifactPath string        // live prompt; trials read a snapshot, never write
	Timeout      time.Duration // hard wall-clock cap per trial
	Grace        time.Duration // SIGTERM -> SIGKILL window
	Workers      int
}

// BatchSpec is one batch request.
type BatchSpec struct {
	Model  string
	Target int
	Budget int
	N      int
}

// outcomeFile is the structured record each trial writes on completion.
type outcomeFile struct {
	StepsCompleted int     `json:"stepsCompleted"`
	TurnsUsed      int     `json:"turnsUsed"`
	TotalToolCalls int     `json:"totalToolCalls"`
	TotalCost      float64 `json:"totalCost"`
}

// Runner executes batches of isolated concurrent trials. Every trial gets
// its own process group and scratch directory; the batch is a join
// barrier. Cleanup of shared mutable resources runs before and after
// every batch on all exit paths.
type Runner struct {
	cfg      Config
	launcher ports.Launcher
	reaper   ports.Reaper
}

func NewRunner(cfg Config, launcher ports.Launcher, reaper ports.Reaper) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	return &Runner{cfg: cfg, launcher: launcher, reaper: reaper}
}

// RunBatch runs spec.N trials in parallel, bounded by the worker count,
// and returns once every trial has finished or been forcibly terminated.
// Trial crashes are reported in the outcomes, not as an error.
func (r *Runner) RunBatch(ctx context.Context, spec BatchSpec) ([]domain.TrialOutcome, error) {
	r.cleanup(ctx)
	defer r.cleanup(context.WithoutCancel(ctx))

	if err := os.MkdirAll(r.cfg.RunsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating runs dir: %w", err)
	}

	outcomes := make([]domain.TrialOutcome, spec.N)
	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < spec.N; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[slot] = r.runTrial(ctx, spec)
		}(i)
	}
	wg.Wait()

	return outcomes, nil
}

func (r *Runner) runTrial(ctx context.Context, spec BatchSpec) domain.TrialOutcome {
	id := uuid.NewString()[:8]
	outcome := domain.TrialOutcome{
		ID:     id,
		Model:  spec.Model,
		Target: spec.Target,
		Budget: spec.Budget,
	}

	workDir := filepath.Join(r.cfg.TrialsDir, "trial-"+id)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		log.Printf("[trial %s] creating work dir: %v", id, err)
		outcome.Crashed = true
		return outcome
	}
	// The scratch dir is exclusively owned by this trial and destroyed
	// regardless of outcome.
	defer os.RemoveAll(workDir)

	env := append(os.Environ(),
		fmt.Sprintf("PROMPTGYM_TRIAL_ID=%s", id),
		fmt.Sprintf("PROMPTGYM_TARGET=%d", spec.Target),
		fmt.Sprintf("PROMPTGYM_BUDGET=%d", spec.Budget),
		fmt.Sprintf("PROMPTGYM_MODEL=%s", spec.Model),
		fmt.Sprintf("PROMPTGYM_WORKDIR=%s", workDir),
		fmt.Sprintf("PROMPTGYM_RUNS_DIR=%s", r.cfg.RunsDir),
		fmt.Sprintf("PROMPTGYM_ARTIFACT=%s", r.cfg.ArtifactPath),
	)

	handle, err := r.launcher.Start(ctx, ports.ProcessSpec{
		Path: r.cfg.Command[0],
		Args: r.cfg.Command[1:],
		Dir:  r.cfg.ProjectDir,
		Env:  env,
	})
	if err != nil {
		log.Printf("[trial %s] launch failed: %v", id, err)
		outcome.Crashed = true
		return outcome
	}

	tctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	exitCode, err := handle.Wait(tctx)
	if err != nil {
		// Timeout or controller cancellation: kill the whole tree so no
		// descendant outlives the trial.
		outcome.TimedOut = tctx.Err() == context.DeadlineExceeded
		if terr := handle.Terminate(r.cfg.Grace); terr != nil {
			log.Printf("[trial %s] terminate: %v", id, terr)
		}
		exitCode = -1
	}
	outcome.ExitCode = exitCode

	r.collect(&outcome)
	if outcome.Crashed {
		tail := handle.CombinedOutput()
		if len(tail) > 1000 {
			tail = tail[len(tail)-1000:]
		}
		log.Printf("[trial %s] crashed (rc=%d, timed_out=%v): %s", id, exitCode, outcome.TimedOut, tail)
	}
	return outcome
}

// collect looks up the trial's output files by id. A trial with no
// outcome file is a crash no matter what its exit code said.
func (r *Runner) collect(outcome *domain.TrialOutcome) {
	outcomePath := filepath.Join(r.cfg.RunsDir, "outcome_"+outcome.ID+".json")
	transcriptPath := filepath.Join(r.cfg.RunsDir, "transcript_"+outcome.ID+".json")

	data, err := os.ReadFile(outcomePath)
	if err != nil {
		outcome.Crashed = true
		return
	}
	var of outcomeFile
	if err := json.Unmarshal(data, &of); err != nil {
		log.Printf("[trial %s] malformed outcome file: %v", outcome.ID, err)
		outcome.Crashed = true
		return
	}

	outcome.OutcomePath = outcomePath
	outcome.Progress = of.StepsCompleted
	outcome.TurnsUsed = of.TurnsUsed
	outcome.ToolCalls = of.TotalToolCalls
	outcome.Cost = of.TotalCost

	if _, err := os.Stat(transcriptPath); err == nil {
		outcome.TranscriptPath = transcriptPath
	}
}

// cleanup reaps orphaned descendants and removes stale trial scratch
// dirs. It runs unconditionally around every batch; failures are logged
// and swallowed.
func (r *Runner) cleanup(ctx context.Context) {
	if r.reaper != nil {
		if err := r.reaper.Reap(ctx); err != nil {
			log.Printf("[trial] reap: %v", err)
		}
	}
	entries, err := os.ReadDir(r.cfg.TrialsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = os.RemoveAll(filepath.Join(r.cfg.TrialsDir, e.Name()))
		}
	}
}
