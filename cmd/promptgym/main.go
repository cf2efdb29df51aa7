package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/promptgym-dev/promptgym/internal/adapters/local"
	"github.com/promptgym-dev/promptgym/internal/adapters/sqlite"
	"github.com/promptgym-dev/promptgym/internal/artifact"
	"github.com/promptgym-dev/promptgym/internal/config"
	"github.com/promptgym-dev/promptgym/internal/curriculum"
	"github.com/promptgym-dev/promptgym/internal/digest"
	"github.com/promptgym-dev/promptgym/internal/optimize"
	"github.com/promptgym-dev/promptgym/internal/train"
	"github.com/promptgym-dev/promptgym/internal/trial"
)

func main() {
	projectDir := flag.String("project", ".", "project directory")
	maxIterations := flag.Int("max-iterations", 0, "override total iteration cap")
	initialTarget := flag.Int("initial-target", 0, "override starting step target")
	flag.Parse()

	cfg, err := config.Load(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if *maxIterations > 0 {
		cfg.MaxIterations = *maxIterations
	}
	if *initialTarget > 0 {
		cfg.Curriculum.InitialTarget = *initialTarget
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "interrupt: terminating trials and persisting state")
		cancel()
	}()

	store, err := sqlite.NewStore(cfg.Store.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	axis := &curriculum.Controller{
		InitialTarget:  cfg.Curriculum.InitialTarget,
		Increment:      cfg.Curriculum.Increment,
		MaxTarget:      cfg.Curriculum.MaxTarget,
		ClearThreshold: cfg.Curriculum.ClearThreshold,
		Budget:         budgetCurve(cfg),
	}
	cur := &curriculum.Curriculum{Axis: axis, Models: cfg.Curriculum.Models}

	runner := trial.NewRunner(trial.Config{
		Command:      cfg.Trials.Command,
		ProjectDir:   cfg.Trials.ProjectDir,
		RunsDir:      cfg.Trials.RunsDir,
		TrialsDir:    cfg.Trials.TrialsDir,
		ArtifactPath: cfg.Artifact.Path,
		Timeout:      time.Duration(cfg.Trials.TimeoutSeconds) * time.Second,
		Grace:        time.Duration(cfg.Trials.GraceSeconds) * time.Second,
		Workers:      cfg.Trials.Workers,
	}, &local.Launcher{}, &local.PatternReaper{Patterns: cfg.Trials.OrphanPatterns})

	proposer := &optimize.CommandLLMClient{Command: cfg.Optimize.LLMCommand, Args: cfg.Optimize.LLMArgs}
	judgeLLM := proposer
	if cfg.Optimize.JudgeCommand != "" {
		judgeLLM = &optimize.CommandLLMClient{Command: cfg.Optimize.JudgeCommand, Args: cfg.Optimize.JudgeArgs}
	}
	engine := &optimize.Engine{
		Proposer:  proposer,
		Scorer:    &optimize.JudgeScorer{LLM: judgeLLM, Rubric: optimize.DefaultRubric()},
		MaxPasses: cfg.Optimize.MaxPasses,
		StatePath: filepath.Join(cfg.Artifact.HistoryDir, "search_state.json"),
	}

	loop := train.NewLoop(train.Config{
		MaxIterations:    cfg.MaxIterations,
		BatchSize:        cfg.Trials.BatchSize,
		Window:           cfg.Optimize.Window,
		FailureThreshold: cfg.Trials.FailureThreshold,
	}, cur, runner,
		&digest.Analyzer{FieldCap: cfg.Optimize.FieldCap, Ceiling: cfg.Optimize.DigestCeiling},
		engine,
		&artifact.Repository{Path: cfg.Artifact.Path, HistoryDir: cfg.Artifact.HistoryDir},
		store,
	)

	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "training interrupted, state persisted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("training complete")
}

func budgetCurve(cfg *config.Config) curriculum.BudgetCurve {
	c := cfg.Curriculum
	if c.BudgetCurve == "linear" {
		return curriculum.LinearCurve(c.InitialTarget, c.MaxTarget, c.MinBudget, c.MaxBudget)
	}
	return curriculum.PowerCurve(c.InitialTarget, c.MaxTarget, c.MinBudget, c.MaxBudget)
}
