package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type CurriculumConfig struct {
	InitialTarget  int      `toml:"initial_target"`
	Increment      int      `toml:"increment"`
	MaxTarget      int      `toml:"max_target"`
	ClearThreshold int      `toml:"clear_threshold"`
	BudgetCurve    string   `toml:"budget_curve"` // "power" or "linear"
	MinBudget      int      `toml:"min_budget"`
	MaxBudget      int      `toml:"max_budget"`
	Models         []string `toml:"models"`
}

type TrialsConfig struct {
	Command          []string `toml:"command"`
	ProjectDir       string   `toml:"project_dir"`
	RunsDir          string   `toml:"runs_dir"`
	TrialsDir        string   `toml:"trials_dir"`
	BatchSize        int      `toml:"batch_size"`
	Workers          int      `toml:"workers"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
	GraceSeconds     int      `toml:"grace_seconds"`
	FailureThreshold int      `toml:"failure_threshold"`
	OrphanPatterns   []string `toml:"orphan_patterns"`
}

type OptimizeConfig struct {
	MaxPasses     int      `toml:"max_passes"`
	Window        int      `toml:"window"`
	FieldCap      int      `toml:"field_cap"`
	DigestCeiling int      `toml:"digest_ceiling"`
	LLMCommand    string   `toml:"llm_command"`
	LLMArgs       []string `toml:"llm_args"`
	JudgeCommand  string   `toml:"judge_command"`
	JudgeArgs     []string `toml:"judge_args"`
}

type ArtifactConfig struct {
	Path       string `toml:"path"`
	HistoryDir string `toml:"history_dir"`
}

type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

type Config struct {
	MaxIterations int              `toml:"max_iterations"`
	Curriculum    CurriculumConfig `toml:"curriculum"`
	Trials        TrialsConfig     `toml:"trials"`
	Optimize      OptimizeConfig   `toml:"optimize"`
	Artifact      ArtifactConfig   `toml:"artifact"`
	Store         StoreConfig      `toml:"store"`
}

func defaults() Config {
	return Config{
		MaxIterations: 50,
		Curriculum: CurriculumConfig{
			InitialTarget:  2,
			Increment:      3,
			MaxTarget:      30,
			ClearThreshold: 2,
			BudgetCurve:    "power",
			MinBudget:      30,
			MaxBudget:      150,
			Models:         []string{"anthropic/claude-opus-4.5"},
		},
		Trials: TrialsConfig{
			Command:          []string{"bun", "run", "src/index.ts"},
			ProjectDir:       ".",
			RunsDir:          "runs",
			TrialsDir:        "trials",
			BatchSize:        2,
			Workers:          2,
			TimeoutSeconds:   3600,
			GraceSeconds:     2,
			FailureThreshold: 3,
			OrphanPatterns:   []string{"chromium.*browser-data", "chrome.*browser-data"},
		},
		Optimize: OptimizeConfig{
			MaxPasses:     4,
			Window:        5,
			FieldCap:      200,
			DigestCeiling: 20000,
			LLMCommand:    "claude",
			LLMArgs:       []string{"-p", "--output-format", "text"},
		},
		Artifact: ArtifactConfig{
			Path:       "prompts/SYSTEM_BASE.md",
			HistoryDir: "prompt_history",
		},
		Store: StoreConfig{
			DBPath: "promptgym.db",
		},
	}
}

// Load reads <projectDir>/.promptgym/config, falling back to defaults when
// the file does not exist. Relative paths in the config are resolved
// against projectDir.
func Load(projectDir string) (*Config, error) {
	cfg := defaults()
	path := filepath.Join(projectDir, ".promptgym", "config")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.resolve(projectDir)
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.resolve(projectDir)
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Curriculum.InitialTarget < 1 {
		return fmt.Errorf("curriculum.initial_target must be >= 1")
	}
	if c.Curriculum.MaxTarget < c.Curriculum.InitialTarget {
		return fmt.Errorf("curriculum.max_target must be >= initial_target")
	}
	if c.Curriculum.MinBudget > c.Curriculum.MaxBudget {
		return fmt.Errorf("curriculum.min_budget must be <= max_budget")
	}
	if len(c.Curriculum.Models) == 0 {
		return fmt.Errorf("curriculum.models must not be empty")
	}
	if len(c.Trials.Command) == 0 {
		return fmt.Errorf("trials.command must not be empty")
	}
	switch c.Curriculum.BudgetCurve {
	case "power", "linear":
	default:
		return fmt.Errorf("curriculum.budget_curve must be %q or %q", "power", "linear")
	}
	return nil
}

func (c *Config) resolve(projectDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(projectDir, p)
	}
	c.Trials.ProjectDir = abs(c.Trials.ProjectDir)
	c.Trials.RunsDir = abs(c.Trials.RunsDir)
	c.Trials.TrialsDir = abs(c.Trials.TrialsDir)
	c.Artifact.Path = abs(c.Artifact.Path)
	c.Artifact.HistoryDir = abs(c.Artifact.HistoryDir)
	c.Store.DBPath = abs(c.Store.DBPath)
}
