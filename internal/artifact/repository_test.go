package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	dir := t.TempDir()
	return &Repository{
		Path:       filepath.Join(dir, "prompts", "SYSTEM_BASE.md"),
		HistoryDir: filepath.Join(dir, "prompt_history"),
	}
}

func TestCurrentEmptyWhenMissing(t *testing.T) {
	r := newRepo(t)
	content, err := r.Current()
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestFirstCommitHasNoBackup(t *testing.T) {
	r := newRepo(t)

	backup, err := r.Commit("version one", 0, "anthropic/claude-opus-4.5")
	require.NoError(t, err)
	assert.Empty(t, backup, "nothing to back up on the first commit")

	content, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, "version one", content)
}

func TestCommitBacksUpPreviousVersionFirst(t *testing.T) {
	r := newRepo(t)
	_, err := r.Commit("version one", 0, "anthropic/claude-opus-4.5")
	require.NoError(t, err)

	backup, err := r.Commit("version two", 1, "anthropic/claude-opus-4.5")
	require.NoError(t, err)
	require.NotEmpty(t, backup)
	assert.Contains(t, backup, "iter1")
	assert.Contains(t, backup, "claude-opus-4.5")

	saved, err := os.ReadFile(filepath.Join(r.HistoryDir, backup))
	require.NoError(t, err)
	assert.Equal(t, "version one", string(saved), "backup holds the pre-commit content")

	content, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, "version two", content)
}

func TestHistoryListsBackups(t *testing.T) {
	r := newRepo(t)
	_, err := r.Commit("v1", 0, "m")
	require.NoError(t, err)
	_, err = r.Commit("v2", 1, "m")
	require.NoError(t, err)
	_, err = r.Commit("v3", 2, "m")
	require.NoError(t, err)

	names, err := r.History()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestShortModel(t *testing.T) {
	assert.Equal(t, "claude-opus-4.5", shortModel("anthropic/claude-opus-4.5"))
	assert.Equal(t, "gpt-oss-120b", shortModel("openai/gpt-oss-120b"))
	assert.Equal(t, "plain", shortModel("plain"))
}
