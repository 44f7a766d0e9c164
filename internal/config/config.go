// Package config loads cadence configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// CADENCE_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// Config holds the complete cadence configuration.
type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Logging     LoggingConfig      `koanf:"logging"`
	Telemetry   TelemetryConfig    `koanf:"telemetry"`
	Scheduler   SchedulerConfig    `koanf:"scheduler"`
	Phases      PhasesConfig       `koanf:"phases"`
	Budget      map[string]float64 `koanf:"budget"`
	Storage     StorageConfig      `koanf:"storage"`
	NATS        NATSConfig         `koanf:"nats"`
	Oracle      OracleConfig       `koanf:"oracle"`
	Catalog     CatalogConfig      `koanf:"catalog"`
	Maintenance MaintenanceConfig  `koanf:"maintenance"`
}

// ServerConfig holds the operational HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// SchedulerConfig tunes the tracker, decision engine, queues and executor.
type SchedulerConfig struct {
	PollInterval    Duration `koanf:"poll_interval"`
	Backoff         Duration `koanf:"backoff"`
	TickInterval    Duration `koanf:"tick_interval"`
	MaxPerPhase     int      `koanf:"max_per_phase"`
	TopK            int      `koanf:"top_k"`
	DecisionHistory int      `koanf:"decision_history"`
	WorkHistory     int      `koanf:"work_history"`
	DispatchHistory int      `koanf:"dispatch_history"`
	QueueSize       int      `koanf:"queue_size"`
	MinPlanBudget   float64  `koanf:"min_plan_budget"`
}

// PhasesConfig gives the hour each phase begins. Each phase runs until the
// next one starts.
type PhasesConfig struct {
	MorningStart   int `koanf:"morning_start"`
	AfternoonStart int `koanf:"afternoon_start"`
	EveningStart   int `koanf:"evening_start"`
	NightStart     int `koanf:"night_start"`
}

// Windows converts the start hours into phase windows.
func (p PhasesConfig) Windows() []dayphase.Window {
	return []dayphase.Window{
		{Phase: dayphase.Night, StartHour: p.NightStart, EndHour: p.MorningStart},
		{Phase: dayphase.Morning, StartHour: p.MorningStart, EndHour: p.AfternoonStart},
		{Phase: dayphase.Afternoon, StartHour: p.AfternoonStart, EndHour: p.EveningStart},
		{Phase: dayphase.Evening, StartHour: p.EveningStart, EndHour: p.NightStart},
	}
}

type StorageConfig struct {
	Path string `koanf:"path"`
}

type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// OracleConfig selects the language model used as the preference oracle.
// The oracle is disabled when no API key is set.
type OracleConfig struct {
	Provider   string   `koanf:"provider"`
	Model      string   `koanf:"model"`
	BaseURL    string   `koanf:"base_url"`
	APIKey     Secret   `koanf:"api_key"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	MaxTokens  int      `koanf:"max_tokens"`
	RateLimit  float64  `koanf:"rate_limit"`
	Burst      int      `koanf:"burst"`
}

// CatalogConfig points at a YAML template catalog. Empty Path uses the
// built-in templates.
type CatalogConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

type MaintenanceConfig struct {
	ContradictionInterval Duration `koanf:"contradiction_interval"`
	ContradictionLimit    int      `koanf:"contradiction_limit"`
	ContradictionPrefix   string   `koanf:"contradiction_prefix"`
}

// BudgetLimits converts the budget section into per-category daily limits.
func (c *Config) BudgetLimits() (map[workunit.Category]float64, error) {
	out := make(map[workunit.Category]float64, len(c.Budget))
	for name, limit := range c.Budget {
		cat, err := workunit.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out[cat] = limit
	}
	return out, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func defaultBudget() map[string]float64 {
	return map[string]float64{
		string(workunit.CategoryReflection):  0.50,
		string(workunit.CategoryResearch):    1.50,
		string(workunit.CategoryCreative):    0.50,
		string(workunit.CategoryMaintenance): 0.25,
		string(workunit.CategoryCuriosity):   0.75,
		string(workunit.CategoryGrowth):      0.75,
		string(workunit.CategorySocial):      0.25,
	}
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "cadence"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	s := &cfg.Scheduler
	if s.PollInterval == 0 {
		s.PollInterval = Duration(60 * time.Second)
	}
	if s.Backoff == 0 {
		s.Backoff = Duration(5 * time.Second)
	}
	if s.TickInterval == 0 {
		s.TickInterval = Duration(15 * time.Minute)
	}
	if s.MaxPerPhase == 0 {
		s.MaxPerPhase = 5
	}
	if s.TopK == 0 {
		s.TopK = 7
	}
	if s.DecisionHistory == 0 {
		s.DecisionHistory = 10
	}
	if s.WorkHistory == 0 {
		s.WorkHistory = 50
	}
	if s.DispatchHistory == 0 {
		s.DispatchHistory = 50
	}
	if s.QueueSize == 0 {
		s.QueueSize = 16
	}
	if s.MinPlanBudget == 0 {
		s.MinPlanBudget = 0.10
	}

	p := &cfg.Phases
	if *p == (PhasesConfig{}) {
		*p = PhasesConfig{MorningStart: 6, AfternoonStart: 12, EveningStart: 17, NightStart: 22}
	}

	if len(cfg.Budget) == 0 {
		cfg.Budget = defaultBudget()
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "~/.config/cadence/cadence.db"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "cadence.events"
	}

	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "anthropic"
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = Duration(60 * time.Second)
	}

	if cfg.Maintenance.ContradictionInterval == 0 {
		cfg.Maintenance.ContradictionInterval = Duration(7 * 24 * time.Hour)
	}
	if cfg.Maintenance.ContradictionLimit == 0 {
		cfg.Maintenance.ContradictionLimit = 5
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("scheduler poll interval must be positive")
	}
	if c.Scheduler.MaxPerPhase < 1 {
		return fmt.Errorf("scheduler max_per_phase must be >= 1, got %d", c.Scheduler.MaxPerPhase)
	}
	if c.Scheduler.MinPlanBudget < 0 {
		return errors.New("scheduler min_plan_budget cannot be negative")
	}
	if err := c.Phases.validate(); err != nil {
		return err
	}
	for name, limit := range c.Budget {
		if _, err := workunit.ParseCategory(name); err != nil {
			return fmt.Errorf("budget: %w", err)
		}
		if limit < 0 {
			return fmt.Errorf("budget %s cannot be negative", name)
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be within 0-1, got %v", c.Telemetry.SampleRate)
	}
	switch c.Oracle.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider)
	}
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}
	return nil
}

// Phase start hours must climb through the day, with night wrapping past
// midnight: morning < afternoon < evening, and night outside that span.
func (p PhasesConfig) validate() error {
	for _, h := range []int{p.MorningStart, p.AfternoonStart, p.EveningStart, p.NightStart} {
		if h < 0 || h > 23 {
			return fmt.Errorf("phase start hour %d out of range 0-23", h)
		}
	}
	if !(p.MorningStart < p.AfternoonStart && p.AfternoonStart < p.EveningStart) {
		return fmt.Errorf("phase start hours must be ordered morning < afternoon < evening")
	}
	if !(p.NightStart > p.EveningStart || p.NightStart < p.MorningStart) {
		return fmt.Errorf("night must start after evening (got %d)", p.NightStart)
	}
	return nil
}
