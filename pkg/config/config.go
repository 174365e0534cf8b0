package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/boristopalov/highway-evolution/pkg/agent"
	"github.com/boristopalov/highway-evolution/pkg/reward"
)

// ErrInvalidConfig marks configuration errors; they are never retried
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything needed to train, record and stitch one run
type Config struct {
	EnvID          string `yaml:"env_id"`
	Seed           int64  `yaml:"seed"`
	TotalTimesteps int    `yaml:"total_timesteps"`

	// PPO
	LearningRate float64 `yaml:"learning_rate"`
	NSteps       int     `yaml:"n_steps"`
	BatchSize    int     `yaml:"batch_size"`
	NEpochs      int     `yaml:"n_epochs"`
	Gamma        float64 `yaml:"gamma"`
	GAELambda    float64 `yaml:"gae_lambda"`
	ClipRange    float64 `yaml:"clip_range"`

	// save paths
	ModelDir  string `yaml:"model_dir"`
	HalfName  string `yaml:"half_name"`
	FinalName string `yaml:"final_name"`

	Reward  reward.Weights `yaml:"reward"`
	Logs    LogsConfig     `yaml:"logs"`
	Video   VideoConfig    `yaml:"video"`
	Store   StoreConfig    `yaml:"store"`
	Logging LoggingConfig  `yaml:"logging"`
}

type LogsConfig struct {
	Dir         string `yaml:"dir"`
	MonitorName string `yaml:"monitor_name"`
	// RewardWindow is the number of episodes averaged in progress logs
	RewardWindow int `yaml:"reward_window"`
}

type VideoConfig struct {
	Dir           string `yaml:"dir"`
	EvolutionName string `yaml:"evolution_name"`
	FPS           int    `yaml:"fps"`
	Prefix        string `yaml:"prefix"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // memory or sqlite
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() *Config {
	h := agent.DefaultHyperparams()
	return &Config{
		EnvID:          "highway-v0",
		Seed:           42,
		TotalTimesteps: 10_000,

		LearningRate: h.LearningRate,
		NSteps:       h.NSteps,
		BatchSize:    h.BatchSize,
		NEpochs:      h.NEpochs,
		Gamma:        h.Gamma,
		GAELambda:    h.GAELambda,
		ClipRange:    h.ClipRange,

		ModelDir:  "artifacts/models",
		HalfName:  "ppo_half.json",
		FinalName: "ppo_final.json",

		Reward: reward.DefaultWeights(),
		Logs: LogsConfig{
			Dir:          "artifacts/logs",
			MonitorName:  "monitor.csv",
			RewardWindow: 100,
		},
		Video: VideoConfig{
			Dir:           "artifacts/videos",
			EvolutionName: "evolution.gif",
			FPS:           30,
			Prefix:        "stage",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "artifacts/runs.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"EVOLVE_ENV_ID":     &c.EnvID,
		"EVOLVE_MODEL_DIR":  &c.ModelDir,
		"EVOLVE_LOG_DIR":    &c.Logs.Dir,
		"EVOLVE_VIDEOS_DIR": &c.Video.Dir,
		"EVOLVE_STORE":      &c.Store.Backend,
		"EVOLVE_STORE_PATH": &c.Store.Path,
		"EVOLVE_LOG_LEVEL":  &c.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("EVOLVE_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: EVOLVE_SEED=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Seed = seed
	}
	if v := os.Getenv("EVOLVE_TOTAL_TIMESTEPS"); v != "" {
		total, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: EVOLVE_TOTAL_TIMESTEPS=%q: %v", ErrInvalidConfig, v, err)
		}
		c.TotalTimesteps = total
	}
	return nil
}

// Hyperparams returns the PPO settings. Coefficients not exposed in the
// configuration keep their defaults.
func (c *Config) Hyperparams() agent.Hyperparams {
	h := agent.DefaultHyperparams()
	h.LearningRate = c.LearningRate
	h.NSteps = c.NSteps
	h.BatchSize = c.BatchSize
	h.NEpochs = c.NEpochs
	h.Gamma = c.Gamma
	h.GAELambda = c.GAELambda
	h.ClipRange = c.ClipRange
	return h
}

var validBackends = []string{"memory", "sqlite"}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	var errs []error
	if c.EnvID == "" {
		errs = append(errs, errors.New("env_id is required"))
	}
	if c.TotalTimesteps <= 0 {
		errs = append(errs, fmt.Errorf("total_timesteps must be > 0, got %d", c.TotalTimesteps))
	}
	if err := c.Hyperparams().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Reward.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ModelDir == "" || c.HalfName == "" || c.FinalName == "" {
		errs = append(errs, errors.New("model_dir, half_name and final_name are required"))
	}
	if c.HalfName != "" && c.HalfName == c.FinalName {
		errs = append(errs, fmt.Errorf("half_name and final_name must differ, both are %q", c.HalfName))
	}
	if c.Logs.Dir == "" || c.Logs.MonitorName == "" {
		errs = append(errs, errors.New("logs.dir and logs.monitor_name are required"))
	}
	if c.Video.Dir == "" || c.Video.EvolutionName == "" {
		errs = append(errs, errors.New("video.dir and video.evolution_name are required"))
	}
	if c.Video.FPS < 1 {
		errs = append(errs, fmt.Errorf("video.fps must be >= 1, got %d", c.Video.FPS))
	}

	validBackend := false
	for _, b := range validBackends {
		if c.Store.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		errs = append(errs, fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, validBackends))
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required for the sqlite backend"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) HalfPath() string      { return filepath.Join(c.ModelDir, c.HalfName) }
func (c *Config) FinalPath() string     { return filepath.Join(c.ModelDir, c.FinalName) }
func (c *Config) MonitorPath() string   { return filepath.Join(c.Logs.Dir, c.Logs.MonitorName) }
func (c *Config) EvolutionPath() string { return filepath.Join(c.Video.Dir, c.Video.EvolutionName) }
