package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/promptgym-dev/promptgym/internal/adapters/sqlite"
	"github.com/promptgym-dev/promptgym/internal/config"
)

// promptgym-inspect prints the persisted training state and recent trial
// history without touching the live trainer.
func main() {
	projectDir := flag.String("project", ".", "project directory")
	n := flag.Int("n", 10, "number of recent trials to show")
	flag.Parse()

	cfg, err := config.Load(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	store, err := sqlite.NewStore(cfg.Store.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	state, err := store.LoadState(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading state: %v\n", err)
		os.Exit(1)
	}
	if state == nil {
		fmt.Println("No training state recorded yet.")
		return
	}

	fmt.Printf("Iteration:            %d\n", state.Iteration)
	fmt.Printf("Model:                %s (index %d)\n", state.Model, state.ModelIndex)
	fmt.Printf("Target:               %d steps\n", state.Target)
	fmt.Printf("Budget:               %d turns\n", state.Budget)
	fmt.Printf("Consecutive clears:   %d\n", state.ConsecutiveClears)
	fmt.Printf("Consecutive failures: %d\n", state.ConsecutiveFailures)
	fmt.Printf("Cumulative cost:      $%.2f\n", state.CumulativeCost)

	trials, err := store.RecentTrials(ctx, *n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing trials: %v\n", err)
		os.Exit(1)
	}
	if len(trials) == 0 {
		return
	}

	fmt.Printf("\nRecent trials:\n")
	for _, t := range trials {
		status := fmt.Sprintf("steps=%d/%d turns=%d cost=$%.2f", t.Progress, t.Target, t.TurnsUsed, t.Cost)
		if t.Crashed {
			status = "CRASHED"
		}
		fmt.Printf("  %s  iter=%-3d %-28s %s\n", t.ID, t.Iteration, t.Model, status)
	}
}
