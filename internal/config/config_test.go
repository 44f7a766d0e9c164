package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// setupHome points HOME at a temp dir and returns the cadence config dir.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "cadence")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	return dir
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9191", cfg.Server.Addr())
	assert.Equal(t, 5, cfg.Scheduler.MaxPerPhase)
	assert.Equal(t, 0.10, cfg.Scheduler.MinPlanBudget)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.TickInterval.Duration())
	assert.Equal(t, "cadence.events", cfg.NATS.SubjectPrefix)
	assert.False(t, cfg.Oracle.APIKey.IsSet())

	limits, err := cfg.BudgetLimits()
	require.NoError(t, err)
	assert.Len(t, limits, len(workunit.AllCategories()))
}

func TestPhasesConfig_Windows(t *testing.T) {
	windows := Default().Phases.Windows()
	assert.Equal(t, dayphase.DefaultWindows(), windows)
}

func TestPhasesConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		phases  PhasesConfig
		wantErr bool
	}{
		{"default", PhasesConfig{6, 12, 17, 22}, false},
		{"night before midnight wrap", PhasesConfig{7, 12, 18, 2}, false},
		{"unordered", PhasesConfig{12, 6, 17, 22}, true},
		{"night inside day", PhasesConfig{6, 12, 17, 14}, true},
		{"night equals morning", PhasesConfig{6, 12, 17, 6}, true},
		{"out of range", PhasesConfig{6, 12, 17, 24}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.phases.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadWithFile_YAML(t *testing.T) {
	dir := setupHome(t)
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9300
scheduler:
  max_per_phase: 3
  tick_interval: 5m
phases:
  morning_start: 7
  afternoon_start: 12
  evening_start: 18
  night_start: 23
budget:
  research: 2.5
oracle:
  provider: openai
  api_key: sk-test
catalog:
  path: /etc/cadence/catalog.yaml
  watch: true
maintenance:
  contradiction_interval: 14d
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Scheduler.MaxPerPhase)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.TickInterval.Duration())
	assert.Equal(t, 7, cfg.Phases.MorningStart)
	assert.Equal(t, map[string]float64{"research": 2.5}, cfg.Budget)
	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, "sk-test", cfg.Oracle.APIKey.Value())
	assert.True(t, cfg.Catalog.Watch)
	assert.Equal(t, 14*24*time.Hour, cfg.Maintenance.ContradictionInterval.Duration())
	// Untouched sections still get defaults.
	assert.Equal(t, 10, cfg.Scheduler.DecisionHistory)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	dir := setupHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9300\n"), 0o600))

	t.Setenv("CADENCE_SERVER_PORT", "9400")
	t.Setenv("CADENCE_SCHEDULER_MAX_PER_PHASE", "2")
	t.Setenv("CADENCE_ORACLE_API_KEY", "from-env")
	t.Setenv("CADENCE_NATS_ENABLED", "true")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Scheduler.MaxPerPhase)
	assert.Equal(t, "from-env", cfg.Oracle.APIKey.Value())
	assert.True(t, cfg.NATS.Enabled)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	setupHome(t)
	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadWithFile_Rejections(t *testing.T) {
	dir := setupHome(t)

	loose := filepath.Join(dir, "loose.yaml")
	require.NoError(t, os.WriteFile(loose, []byte("server:\n  port: 1\n"), 0o644))
	require.NoError(t, os.Chmod(loose, 0o644))
	_, err := LoadWithFile(loose)
	assert.ErrorContains(t, err, "insecure config file permissions")

	big := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(big, make([]byte, maxConfigFileSize+1), 0o600))
	_, err = LoadWithFile(big)
	assert.ErrorContains(t, err, "too large")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("budget:\n  gardening: 1\n"), 0o600))
	_, err = LoadWithFile(bad)
	assert.ErrorIs(t, err, workunit.ErrUnknownCategory)

	_, err = LoadWithFile("/tmp/cadence.yaml")
	assert.ErrorContains(t, err, "config path validation failed")
}

func TestValidateConfigPath(t *testing.T) {
	dir := setupHome(t)

	for _, p := range []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "sub", "config.yaml"),
		"/etc/cadence/config.yaml",
	} {
		assert.NoError(t, validateConfigPath(p), p)
	}
	for _, p := range []string{
		"/etc/passwd",
		"/etc/cadence../passwd",
		dir + "-evil/config.yaml",
		filepath.Join(dir, "..", "..", "config.yaml"),
	} {
		assert.Error(t, validateConfigPath(p), p)
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("CADENCE_SERVER_PORT"))
	assert.Equal(t, "scheduler.max_per_phase", envKey("CADENCE_SCHEDULER_MAX_PER_PHASE"))
	assert.Equal(t, "debug", envKey("CADENCE_DEBUG"))
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/.config/cadence/cadence.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "cadence", "cadence.db"), got)

	got, err = ExpandPath("/var/lib/cadence.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cadence.db", got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"max per phase", func(c *Config) { c.Scheduler.MaxPerPhase = -1 }},
		{"negative budget", func(c *Config) { c.Budget = map[string]float64{"research": -1} }},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }},
		{"provider", func(c *Config) { c.Oracle.Provider = "carrier-pigeon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSecret(t *testing.T) {
	s := Secret("sk-live")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "sk-live", s.Value())

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%q", s))

	var parsed Secret
	require.NoError(t, parsed.UnmarshalText([]byte(" sk-live\n")))
	assert.Equal(t, "sk-live", parsed.Value())
	assert.True(t, parsed.IsSet())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	require.NoError(t, d.UnmarshalText([]byte("7d")))
	assert.Equal(t, 7*24*time.Hour, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("xd")))
	assert.Error(t, d.UnmarshalText([]byte("-2d")))

	data, err := json.Marshal(struct{ Every Duration }{Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Every":"1m30s"}`, string(data))
}
