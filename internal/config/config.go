// Package config binds the environment variables and optional file
// overrides described in spec.md §6 into a single Config, using the
// teacher's viper+godotenv stack: godotenv loads a local .env file (if
// present) before viper reads the process environment, and an optional
// YAML/JSON file supplies structured overrides (risk policy path,
// scheduler jobs) the flat env vars can't express. Grounded on the
// teacher's config/config.go for the LoadFromFile/SaveToFile/Validate/
// Default shape, generalized from account/strategy/simulation/journal
// fields to tradegate's broker/safety/rate-limit/scheduler fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Environment string

const (
	EnvDev   Environment = "dev"
	EnvPaper Environment = "paper"
	EnvLive  Environment = "live"
)

// BrokerConfig configures the OANDA adapter connection (spec.md §6).
type BrokerConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	ClientID string `json:"client_id" yaml:"client_id"`
	// Token is the OANDA API bearer token, distinct from ClientID (the
	// account identifier used in URL paths), mirroring the teacher's
	// broker/oanda config split between OANDA_TOKEN and account identity.
	Token string `json:"token" yaml:"token"`
}

// SafetyConfig configures the kill switch, auto-approval and validation
// strictness (spec.md §6).
type SafetyConfig struct {
	ReadOnlyMode         bool            `json:"readonly_mode" yaml:"readonly_mode"`
	KillSwitchEnabled    bool            `json:"kill_switch_enabled" yaml:"kill_switch_enabled"`
	KillSwitchReason     string          `json:"kill_switch_reason" yaml:"kill_switch_reason"`
	AutoApproval         bool            `json:"auto_approval" yaml:"auto_approval"`
	AutoApprovalMaxNotional decimal.Decimal `json:"auto_approval_max_notional" yaml:"auto_approval_max_notional"`
	StrictValidation     bool            `json:"strict_validation" yaml:"strict_validation"`
	RiskPolicyPath       string          `json:"risk_policy_path" yaml:"risk_policy_path"`
}

// RateLimitConfig configures the Tool Gateway's token buckets
// (spec.md §4.9.3, §6).
type RateLimitConfig struct {
	PerTool    int `json:"per_tool" yaml:"per_tool"`
	PerSession int `json:"per_session" yaml:"per_session"`
	Global     int `json:"global" yaml:"global"`
}

// SchedulerConfig configures the cron-driven report runner (spec.md §4.10).
type SchedulerConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`
	Jobs     []ScheduledJob `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

// ScheduledJob mirrors scheduler.Job for config-file representation.
type ScheduledJob struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	AutoSchedule  bool   `json:"auto_schedule" yaml:"auto_schedule"`
	CronExpr      string `json:"cron" yaml:"cron"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
}

// AuditConfig configures the audit log's optional NATS mirror
// (spec.md §4.8: "every mutating action is recorded to an append-only
// audit log"). PublishURL empty (the default) disables mirroring
// entirely and the audit log is SQLite/Postgres-only.
type AuditConfig struct {
	PublishURL     string `json:"publish_url" yaml:"publish_url"`
	PublishSubject string `json:"publish_subject" yaml:"publish_subject"`
}

// Config is the fully-resolved process configuration (spec.md §6).
type Config struct {
	Env         Environment     `json:"env" yaml:"env"`
	Broker      BrokerConfig    `json:"broker" yaml:"broker"`
	Safety      SafetyConfig    `json:"safety" yaml:"safety"`
	RateLimit   RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Scheduler   SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Audit       AuditConfig     `json:"audit" yaml:"audit"`
	DatabaseURL string          `json:"database_url" yaml:"database_url"`
	LogLevel    string          `json:"log_level" yaml:"log_level"`
}

// Default returns the spec.md-documented defaults.
func Default() *Config {
	return &Config{
		Env: EnvDev,
		Broker: BrokerConfig{
			Host: "api-fxpractice.oanda.com",
			Port: 443,
		},
		Safety: SafetyConfig{
			AutoApprovalMaxNotional: decimal.NewFromInt(1000),
			RiskPolicyPath:          "",
		},
		RateLimit: RateLimitConfig{
			PerTool:    60,
			PerSession: 100,
			Global:     1000,
		},
		Scheduler: SchedulerConfig{
			Timezone: "UTC",
		},
		Audit: AuditConfig{
			PublishSubject: "tradegate.audit",
		},
		LogLevel: "info",
	}
}

// Load resolves configuration in priority order (highest wins): process
// environment (and a local .env file, loaded first so real env vars can
// still override it) > an optional file at path > Default(). This
// mirrors the teacher's LoadFromFile shape while adding the env-var
// binding layer spec.md §6 requires.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)
	applyEnvOverrides(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"BROKER_HOST", "BROKER_PORT", "BROKER_CLIENT_ID", "BROKER_TOKEN", "ENV", "READONLY_MODE",
		"KILL_SWITCH_ENABLED", "KILL_SWITCH_REASON", "AUTO_APPROVAL", "AUTO_APPROVAL_MAX_NOTIONAL",
		"STRICT_VALIDATION", "RISK_POLICY_PATH", "RATE_LIMIT_PER_TOOL", "RATE_LIMIT_PER_SESSION",
		"RATE_LIMIT_GLOBAL", "SCHEDULER_TIMEZONE", "DATABASE_URL", "LOG_LEVEL",
		"AUDIT_PUBLISH_URL", "AUDIT_PUBLISH_SUBJECT",
	} {
		_ = v.BindEnv(key)
	}
}

func applyEnvOverrides(cfg *Config, v *viper.Viper) {
	if s := v.GetString("BROKER_HOST"); s != "" {
		cfg.Broker.Host = s
	}
	if v.IsSet("BROKER_PORT") {
		cfg.Broker.Port = v.GetInt("BROKER_PORT")
	}
	if s := v.GetString("BROKER_CLIENT_ID"); s != "" {
		cfg.Broker.ClientID = s
	}
	if s := v.GetString("BROKER_TOKEN"); s != "" {
		cfg.Broker.Token = s
	}
	if s := v.GetString("ENV"); s != "" {
		cfg.Env = Environment(s)
	}
	if v.IsSet("READONLY_MODE") {
		cfg.Safety.ReadOnlyMode = v.GetBool("READONLY_MODE")
	}
	if v.IsSet("KILL_SWITCH_ENABLED") {
		cfg.Safety.KillSwitchEnabled = v.GetBool("KILL_SWITCH_ENABLED")
	}
	if s := v.GetString("KILL_SWITCH_REASON"); s != "" {
		cfg.Safety.KillSwitchReason = s
	}
	if v.IsSet("AUTO_APPROVAL") {
		cfg.Safety.AutoApproval = v.GetBool("AUTO_APPROVAL")
	}
	if s := v.GetString("AUTO_APPROVAL_MAX_NOTIONAL"); s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			cfg.Safety.AutoApprovalMaxNotional = d
		}
	}
	if v.IsSet("STRICT_VALIDATION") {
		cfg.Safety.StrictValidation = v.GetBool("STRICT_VALIDATION")
	}
	if s := v.GetString("RISK_POLICY_PATH"); s != "" {
		cfg.Safety.RiskPolicyPath = s
	}
	if v.IsSet("RATE_LIMIT_PER_TOOL") {
		cfg.RateLimit.PerTool = v.GetInt("RATE_LIMIT_PER_TOOL")
	}
	if v.IsSet("RATE_LIMIT_PER_SESSION") {
		cfg.RateLimit.PerSession = v.GetInt("RATE_LIMIT_PER_SESSION")
	}
	if v.IsSet("RATE_LIMIT_GLOBAL") {
		cfg.RateLimit.Global = v.GetInt("RATE_LIMIT_GLOBAL")
	}
	if s := v.GetString("SCHEDULER_TIMEZONE"); s != "" {
		cfg.Scheduler.Timezone = s
	}
	if s := v.GetString("DATABASE_URL"); s != "" {
		cfg.DatabaseURL = s
	}
	if s := v.GetString("LOG_LEVEL"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("AUDIT_PUBLISH_URL"); s != "" {
		cfg.Audit.PublishURL = s
	}
	if s := v.GetString("AUDIT_PUBLISH_SUBJECT"); s != "" {
		cfg.Audit.PublishSubject = s
	}
}

// LoadFromFile loads configuration from a file, trying YAML then JSON
// based on content (spec.md is silent on format; the teacher's own
// config package accepts either).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return cfg, nil
}

// SaveToFile persists cfg, choosing YAML or JSON by the path's extension.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate enforces the field-level invariants spec.md §6 implies.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDev, EnvPaper, EnvLive:
	default:
		return fmt.Errorf("env must be one of dev, paper, live, got %q", c.Env)
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be a valid TCP port")
	}
	if c.Safety.AutoApprovalMaxNotional.Sign() < 0 {
		return fmt.Errorf("safety.auto_approval_max_notional must be >= 0")
	}
	if c.RateLimit.PerTool <= 0 || c.RateLimit.PerSession <= 0 || c.RateLimit.Global <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone %q is not a valid IANA timezone: %w", c.Scheduler.Timezone, err)
		}
	}
	return nil
}
