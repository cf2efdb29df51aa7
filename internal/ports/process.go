package ports

import (
	"context"
	"time"
)

// ProcessSpec describes one trial subprocess launch.
type ProcessSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// ProcessHandle controls a running trial subprocess and its descendants.
// Terminate signals the whole process group (graceful first, forced after
// the grace period) and must swallow already-exited errors.
type ProcessHandle interface {
	Wait(ctx context.Context) (exitCode int, err error)
	Terminate(grace time.Duration) error
	CombinedOutput() []byte
}

// Launcher starts trial subprocesses. Injected so the runner is testable
// without real processes.
type Launcher interface {
	Start(ctx context.Context, spec ProcessSpec) (ProcessHandle, error)
}

// Reaper cleans up orphaned descendant processes left behind by previous
// trials (matched by configured patterns). Errors are logged, not fatal.
type Reaper interface {
	Reap(ctx context.Context) error
}
