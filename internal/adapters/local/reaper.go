package local

import (
	"context"
	"os/exec"
	"time"
)

// PatternReaper kills orphaned descendant processes (headless browsers
// from crashed trials, mostly) whose command lines match the configured
// patterns. pkill exiting non-zero just means nothing matched.
type PatternReaper struct {
	Patterns []string
}

func (r *PatternReaper) Reap(ctx context.Context) error {
	for _, pattern := range r.Patterns {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		cmd := exec.CommandContext(pctx, "pkill", "-f", pattern)
		_ = cmd.Run()
		cancel()
	}
	return nil
}
