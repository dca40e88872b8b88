package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for the daemon and the CLI
type LocalConfig struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Remote   RemoteConfig   `yaml:"remote"`
	StudyLog StudyLogConfig `yaml:"study_log"`
	Drill    DrillConfig    `yaml:"drill"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`
}

// LLMConfig holds LLM provider settings
type LLMConfig struct {
	DefaultProvider string                     `yaml:"default_provider"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
	// RatePerSecond and MaxConcurrent bound calls per provider.
	RatePerSecond int `yaml:"rate_per_second"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

// ProviderConfig holds settings for a single LLM provider
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	URL     string `yaml:"url,omitempty"`
	APIKey  string `yaml:"-"` // Loaded from secrets.yaml
	// TimeoutSeconds bounds one model call; zero uses the provider default.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// Timeout returns the per-call timeout, zero when unset.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// StorageConfig selects the device-local store.
type StorageConfig struct {
	Backend string `yaml:"backend"` // sqlite or json
	Path    string `yaml:"path"`
}

// RemoteConfig selects the remote durable store.
type RemoteConfig struct {
	Backend        string `yaml:"backend"` // postgres, redis, http or none
	DatabaseURL    string `yaml:"database_url,omitempty"`
	RedisAddr      string `yaml:"redis_addr,omitempty"`
	RedisDB        int    `yaml:"redis_db,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Password       string `yaml:"-"` // Loaded from secrets.yaml
}

// Timeout returns the per-write timeout.
func (r RemoteConfig) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// StudyLogConfig selects where first-clear entries go.
type StudyLogConfig struct {
	Backend     string `yaml:"backend"` // queue, local or none
	RabbitMQURL string `yaml:"rabbitmq_url,omitempty"`
	Queue       string `yaml:"queue"`
	// Archive also consumes the queue into the local store.
	Archive bool `yaml:"archive"`
}

// DrillConfig holds drill behavior settings
type DrillConfig struct {
	CollectionsPath string `yaml:"collections_path"`
	DraftDebounceMS int    `yaml:"draft_debounce_ms"`
	DayBoundaryHour int    `yaml:"day_boundary_hour"`
	Timezone        string `yaml:"timezone"`
}

// DraftDebounce returns the autosave window.
func (d DrillConfig) DraftDebounce() time.Duration {
	if d.DraftDebounceMS <= 0 {
		return time.Second
	}
	return time.Duration(d.DraftDebounceMS) * time.Millisecond
}

// Location resolves Timezone, defaulting to the local zone.
func (d DrillConfig) Location() (*time.Location, error) {
	if d.Timezone == "" || d.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// SecretsConfig holds API keys loaded from secrets.yaml
type SecretsConfig struct {
	Providers map[string]struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"providers"`
	RemotePassword string `yaml:"remote_password,omitempty"`
}

// Dir returns the config directory: $FILLDRILL_HOME, else ~/.filldrill.
func Dir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".filldrill"), nil
}

// EnsureDir creates the config directory and its subdirectories.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	subdirs := []string{
		"",
		"logs",
		"collections",
		"data",
	}

	for _, subdir := range subdirs {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns the defaults. Relative paths are resolved
// against the config directory by Load.
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:     7433,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		LLM: LLMConfig{
			DefaultProvider: "auto",
			Providers: map[string]*ProviderConfig{
				"claude": {
					Enabled: true,
					Model:   "claude-sonnet-4-20250514",
				},
				"ollama": {
					Enabled: false,
					URL:     "http://localhost:11434",
					Model:   "llama3.1",
				},
			},
			RatePerSecond: 2,
			MaxConcurrent: 5,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "data/filldrill.db",
		},
		Remote: RemoteConfig{
			Backend:        "none",
			TimeoutSeconds: 10,
		},
		StudyLog: StudyLogConfig{
			Backend: "local",
			Queue:   "filldrill.studylog",
		},
		Drill: DrillConfig{
			CollectionsPath: "collections",
			DraftDebounceMS: 1000,
			DayBoundaryHour: 3,
		},
	}
}

// Validate checks enum fields and ranges.
func (c *LocalConfig) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "sqlite", "json":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown %q", c.Storage.Backend))
	}
	switch c.Remote.Backend {
	case "", "none", "postgres", "redis", "http":
	default:
		errs = append(errs, fmt.Errorf("remote.backend: unknown %q", c.Remote.Backend))
	}
	switch c.StudyLog.Backend {
	case "", "none", "local", "queue":
	default:
		errs = append(errs, fmt.Errorf("study_log.backend: unknown %q", c.StudyLog.Backend))
	}
	if c.StudyLog.Backend == "queue" && c.StudyLog.RabbitMQURL == "" {
		errs = append(errs, errors.New("study_log.rabbitmq_url is required for the queue backend"))
	}
	if h := c.Drill.DayBoundaryHour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("drill.day_boundary_hour: %d out of range", h))
	}
	if p := c.Daemon.Port; p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("daemon.port: %d out of range", p))
	}
	return errors.Join(errs...)
}

// Load reads config.yaml and secrets.yaml from Dir, applies environment
// overrides, resolves relative paths and validates the result.
func Load() (*LocalConfig, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom is Load for an explicit directory.
func LoadFrom(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig()

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	ApplyEnv(cfg)

	cfg.Storage.Path = resolve(dir, cfg.Storage.Path)
	cfg.Drill.CollectionsPath = resolve(dir, cfg.Drill.CollectionsPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// loadSecrets loads API keys from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	data, err := os.ReadFile(filepath.Join(dir, "secrets.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	for name, secret := range secrets.Providers {
		if provider, ok := cfg.LLM.Providers[name]; ok {
			provider.APIKey = secret.APIKey
		}
	}
	cfg.Remote.Password = secrets.RemotePassword

	return nil
}

// Save writes cfg to config.yaml in dir.
func Save(dir string, cfg *LocalConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets writes provider API keys to secrets.yaml in dir, readable by
// the owner only.
func SaveSecrets(dir string, keys map[string]string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	secretsCfg := SecretsConfig{
		Providers: make(map[string]struct {
			APIKey string `yaml:"api_key"`
		}),
	}
	for name, key := range keys {
		secretsCfg.Providers[name] = struct {
			APIKey string `yaml:"api_key"`
		}{APIKey: key}
	}

	data, err := yaml.Marshal(secretsCfg)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
