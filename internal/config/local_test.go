package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDir(t *testing.T) {
	t.Setenv(EnvHome, "")
	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error = %v", err)
	}
	if filepath.Base(dir) != ".filldrill" {
		t.Errorf("Dir() = %q, want ending with .filldrill", dir)
	}

	t.Setenv(EnvHome, "/tmp/fd-home")
	if dir, _ := Dir(); dir != "/tmp/fd-home" {
		t.Errorf("Dir() = %q, want FILLDRILL_HOME", dir)
	}
}

func TestEnsureDir(t *testing.T) {
	home := filepath.Join(t.TempDir(), "fd")
	t.Setenv(EnvHome, home)

	dir, err := EnsureDir()
	if err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	if dir != home {
		t.Errorf("EnsureDir() = %q, want %q", dir, home)
	}
	for _, sub := range []string{"logs", "collections", "data"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("EnsureDir() should create %s: %v", sub, err)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if cfg.Daemon.Port != 7433 || cfg.Daemon.Bind != "127.0.0.1" || cfg.Daemon.LogLevel != "info" {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	if cfg.LLM.DefaultProvider != "auto" {
		t.Errorf("LLM.DefaultProvider = %q, want auto", cfg.LLM.DefaultProvider)
	}
	if !cfg.LLM.Providers["claude"].Enabled {
		t.Error("claude should be enabled by default")
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Remote.Backend != "none" || cfg.StudyLog.Backend != "local" {
		t.Errorf("Remote/StudyLog = %q/%q", cfg.Remote.Backend, cfg.StudyLog.Backend)
	}
	if cfg.Drill.DraftDebounce() != time.Second {
		t.Errorf("DraftDebounce() = %v", cfg.Drill.DraftDebounce())
	}
	if cfg.Drill.DayBoundaryHour != 3 {
		t.Errorf("DayBoundaryHour = %d", cfg.Drill.DayBoundaryHour)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFrom_MissingFilesUseDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Storage.Path != filepath.Join(dir, "data/filldrill.db") {
		t.Errorf("Storage.Path = %q, want resolved under dir", cfg.Storage.Path)
	}
	if cfg.Drill.CollectionsPath != filepath.Join(dir, "collections") {
		t.Errorf("CollectionsPath = %q", cfg.Drill.CollectionsPath)
	}
}

func TestLoadFrom_FileAndSecrets(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	writeFile(t, dir, "config.yaml", `
daemon:
  port: 8100
storage:
  backend: json
  path: /var/lib/filldrill
remote:
  backend: redis
  redis_addr: localhost:6379
drill:
  draft_debounce_ms: 250
  timezone: Asia/Tokyo
`)
	if err := SaveSecrets(dir, map[string]string{"claude": "sk-test"}); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Daemon.Port != 8100 {
		t.Errorf("Port = %d", cfg.Daemon.Port)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, defaults should survive a partial file", cfg.Daemon.Bind)
	}
	if cfg.Storage.Path != "/var/lib/filldrill" {
		t.Errorf("absolute path should be kept, got %q", cfg.Storage.Path)
	}
	if cfg.Remote.Backend != "redis" {
		t.Errorf("Remote.Backend = %q", cfg.Remote.Backend)
	}
	if cfg.Drill.DraftDebounce() != 250*time.Millisecond {
		t.Errorf("DraftDebounce() = %v", cfg.Drill.DraftDebounce())
	}
	if cfg.LLM.Providers["claude"].APIKey != "sk-test" {
		t.Error("API key should be loaded from secrets.yaml")
	}

	info, err := os.Stat(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("secrets.yaml mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "daemon: [", "parse config"},
		{"storage backend", "storage:\n  backend: mongo\n", "storage.backend"},
		{"queue without url", "study_log:\n  backend: queue\n", "rabbitmq_url"},
		{"boundary hour", "drill:\n  day_boundary_hour: 24\n", "day_boundary_hour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "config.yaml", tt.yaml)
			_, err := LoadFrom(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadFrom() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultLocalConfig()
	cfg.Daemon.Port = 9999
	cfg.LLM.Providers["claude"].APIKey = "never-written"

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "never-written") {
		t.Error("API keys must not be written to config.yaml")
	}
	var back LocalConfig
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Daemon.Port != 9999 {
		t.Errorf("Port = %d after round trip", back.Daemon.Port)
	}
}

func TestDrillConfig_Location(t *testing.T) {
	loc, err := DrillConfig{}.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Location() = %v, %v; want Local", loc, err)
	}
	if _, err := (DrillConfig{Timezone: "Mars/Olympus"}).Location(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDatabaseURL, EnvRedisAddr, EnvRabbitMQURL, EnvLogLevel, EnvPort, EnvAnthropic} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
