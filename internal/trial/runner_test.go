package trial

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgym-dev/promptgym/internal/ports"
)

// fakeLauncher simulates trial subprocesses without spawning any. Its
// behavior hook receives the env-derived trial id and runs dir so tests
// can decide what files the "agent" leaves behind.
type fakeLauncher struct {
	mu       sync.Mutex
	started  []ports.ProcessSpec
	handles  []*fakeHandle
	behavior func(id, runsDir string) fakeBehavior
}

type fakeBehavior struct {
	exitCode int
	hang     bool
	writes   map[string]any // filename -> JSON payload written to runsDir
}

type fakeHandle struct {
	behavior   fakeBehavior
	terminated bool
	mu         sync.Mutex
}

func (l *fakeLauncher) Start(ctx context.Context, spec ports.ProcessSpec) (ports.ProcessHandle, error) {
	l.mu.Lock()
	l.started = append(l.started, spec)
	l.mu.Unlock()

	id := envValue(spec.Env, "PROMPTGYM_TRIAL_ID")
	runsDir := envValue(spec.Env, "PROMPTGYM_RUNS_DIR")

	b := fakeBehavior{}
	if l.behavior != nil {
		b = l.behavior(id, runsDir)
	}
	for name, payload := range b.writes {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		name = strings.ReplaceAll(name, "{id}", id)
		if err := os.WriteFile(filepath.Join(runsDir, name), data, 0644); err != nil {
			return nil, err
		}
	}
	h := &fakeHandle{behavior: b}
	l.mu.Lock()
	l.handles = append(l.handles, h)
	l.mu.Unlock()
	return h, nil
}

func (h *fakeHandle) Wait(ctx context.Context) (int, error) {
	if h.behavior.hang {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	return h.behavior.exitCode, nil
}

func (h *fakeHandle) Terminate(grace time.Duration) error {
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) CombinedOutput() []byte { return []byte("fake output") }

type countingReaper struct {
	mu    sync.Mutex
	calls int
}

func (r *countingReaper) Reap(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return nil
}

func envValue(env []string, key string) string {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v
		}
	}
	return ""
}

func newTestRunner(t *testing.T, launcher *fakeLauncher, reaper ports.Reaper) *Runner {
	t.Helper()
	dir := t.TempDir()
	return NewRunner(Config{
		Command:      []string{"fake-agent"},
		ProjectDir:   dir,
		RunsDir:      filepath.Join(dir, "runs"),
		TrialsDir:    filepath.Join(dir, "trials"),
		ArtifactPath: filepath.Join(dir, "SYSTEM_BASE.md"),
		Timeout:      time.Second,
		Grace:        time.Millisecond,
		Workers:      2,
	}, launcher, reaper)
}

func okBehavior(steps int) fakeBehavior {
	return fakeBehavior{
		writes: map[string]any{
			"outcome_{id}.json": map[string]any{
				"stepsCompleted": steps, "turnsUsed": 12, "totalToolCalls": 20, "totalCost": 1.25,
			},
			"transcript_{id}.json": []any{},
		},
	}
}

func TestRunBatchCollectsOutcomesByID(t *testing.T) {
	launcher := &fakeLauncher{behavior: func(id, runsDir string) fakeBehavior { return okBehavior(4) }}
	r := newTestRunner(t, launcher, nil)

	outcomes, err := r.RunBatch(context.Background(), BatchSpec{Model: "m", Target: 5, Budget: 40, N: 3})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	seen := map[string]bool{}
	for _, o := range outcomes {
		assert.False(t, o.Crashed)
		assert.Equal(t, 4, o.Progress)
		assert.Equal(t, 12, o.TurnsUsed)
		assert.Equal(t, 20, o.ToolCalls)
		assert.InDelta(t, 1.25, o.Cost, 1e-9)
		assert.Contains(t, o.OutcomePath, o.ID)
		assert.Contains(t, o.TranscriptPath, o.ID)
		assert.False(t, seen[o.ID], "trial ids must be unique")
		seen[o.ID] = true
	}
}

func TestTrialEnvContract(t *testing.T) {
	launcher := &fakeLauncher{behavior: func(id, runsDir string) fakeBehavior { return okBehavior(1) }}
	r := newTestRunner(t, launcher, nil)

	_, err := r.RunBatch(context.Background(), BatchSpec{Model: "model-x", Target: 7, Budget: 55, N: 1})
	require.NoError(t, err)

	require.Len(t, launcher.started, 1)
	env := launcher.started[0].Env
	assert.Equal(t, "7", envValue(env, "PROMPTGYM_TARGET"))
	assert.Equal(t, "55", envValue(env, "PROMPTGYM_BUDGET"))
	assert.Equal(t, "model-x", envValue(env, "PROMPTGYM_MODEL"))
	assert.NotEmpty(t, envValue(env, "PROMPTGYM_TRIAL_ID"))
	assert.NotEmpty(t, envValue(env, "PROMPTGYM_WORKDIR"))
	assert.NotEmpty(t, envValue(env, "PROMPTGYM_ARTIFACT"))
}

func TestMissingOutcomeFileIsACrash(t *testing.T) {
	launcher := &fakeLauncher{} // writes nothing
	r := newTestRunner(t, launcher, nil)

	outcomes, err := r.RunBatch(context.Background(), BatchSpec{Model: "m", Target: 2, Budget: 30, N: 2})
	require.NoError(t, err, "trial crashes are reported in outcomes, not as batch errors")
	for _, o := range outcomes {
		assert.True(t, o.Crashed)
	}
}

func TestMalformedOutcomeFileIsACrash(t *testing.T) {
	launcher := &fakeLauncher{behavior: func(id, runsDir string) fakeBehavior {
		return fakeBehavior{writes: map[string]any{"outcome_{id}.json": "not an object"}}
	}}
	r := newTestRunner(t, launcher, nil)

	outcomes, err := r.RunBatch(context.Background(), BatchSpec{Model: "m", Target: 2, Budget: 30, N: 1})
	require.NoError(t, err)
	assert.True(t, outcomes[0].Crashed)
}

func TestTimeoutTerminatesProcessGroup(t *testing.T) {
	launcher := &fakeLauncher{behavior: func(id, runsDir string) fakeBehavior {
		return fakeBehavior{hang: true}
	}}
	r := newTestRunner(t, launcher, nil)
	r.cfg.Timeout = 20 * time.Millisecond

	outcomes, err := r.RunBatch(context.Background(), BatchSpec{Model: "m", Target: 2, Budget: 30, N: 1})
	require.NoError(t, err)
	assert.True(t, outcomes[0].TimedOut)
	assert.True(t, outcomes[0].Crashed)

	require.Len(t, launcher.handles, 1)
	launcher.handles[0].mu.Lock()
	terminated := launcher.handles[0].terminated
	launcher.handles[0].mu.Unlock()
	assert.True(t, terminated, "a timed out trial must be terminated")
}

func TestCleanupRunsBeforeAndAfterBatch(t *testing.T) {
	reaper := &countingReaper{}
	launcher := &fakeLauncher{behavior: func(id, runsDir string) fakeBehavior { return okBehavior(1) }}
	r := newTestRunner(t, launcher, reaper)

	// plant a stale scratch dir from a hypothetical earlier crash
	stale := filepath.Join(r.cfg.TrialsDir, "trial-stale")
	require.NoError(t, os.MkdirAll(stale, 0755))

	_, err := r.RunBatch(context.Background(), BatchSpec{Model: "m", Target: 2, Budget: 30, N: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, reaper.calls, "reap before and after the batch")
	assert.NoDirExists(t, stale)

	entries, err := os.ReadDir(r.cfg.TrialsDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no scratch dirs survive the batch")
}

func TestBatchIsJoinBarrier(t *testing.T) {
	const n = 5
	var running, peak int
	var mu sync.Mutex

	launcher := &fakeLauncher{behavior: func(id, runsDir string) fakeBehavior { return okBehavior(1) }}
	base := launcher.behavior
	launcher.behavior = func(id, runsDir string) fakeBehavior {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		defer func() { mu.Lock(); running--; mu.Unlock() }()
		return base(id, runsDir)
	}

	r := newTestRunner(t, launcher, nil)
	outcomes, err := r.RunBatch(context.Background(), BatchSpec{Model: "m", Target: 2, Budget: 30, N: n})
	require.NoError(t, err)
	require.Len(t, outcomes, n)
	for i, o := range outcomes {
		assert.NotEmpty(t, o.ID, fmt.Sprintf("slot %d must be filled before RunBatch returns", i))
	}
}
