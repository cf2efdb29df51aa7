package artifact

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Repository owns the live artifact file and its append-only backup
// history. Single-writer: only the training loop commits through it, and
// every commit backs up the previous version first.
type Repository struct {
	Path       string
	HistoryDir string
}

// Current returns the live artifact content, or "" when none exists yet.
func (r *Repository) Current() (string, error) {
	data, err := os.ReadFile(r.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading artifact: %w", err)
	}
	return string(data), nil
}

// Commit backs up the previous version, then overwrites the live copy.
// The backup name carries the iteration, model, and a UTC timestamp.
func (r *Repository) Commit(content string, iteration int, model string) (backupName string, err error) {
	backupName, err = r.backup(iteration, model)
	if err != nil {
		return "", fmt.Errorf("backing up artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.Path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(r.Path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return backupName, nil
}

func (r *Repository) backup(iteration int, model string) (string, error) {
	data, err := os.ReadFile(r.Path)
	if os.IsNotExist(err) {
		return "", nil // nothing to back up yet
	}
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.HistoryDir, 0755); err != nil {
		return "", err
	}

	ts := time.Now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("SYSTEM_iter%d_%s_%s.md", iteration, shortModel(model), ts)
	if err := os.WriteFile(filepath.Join(r.HistoryDir, name), data, 0644); err != nil {
		return "", err
	}
	log.Printf("[artifact] backed up prompt to %s", name)
	return name, nil
}

// History lists backup filenames, oldest first.
func (r *Repository) History() ([]string, error) {
	entries, err := os.ReadDir(r.HistoryDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func shortModel(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	return strings.ReplaceAll(model, ":", "-")
}
