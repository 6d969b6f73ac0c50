package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete council configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
	Debate   DebateConfig   `mapstructure:"debate"`
	Alliance AllianceConfig `mapstructure:"alliance"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig points at the persona and coordinator endpoints
type BackendConfig struct {
	// BaseURL is the scheme and host of the backend (e.g. "http://localhost:3000")
	BaseURL string `mapstructure:"base_url"`
	// ChatPath is the group chat endpoint (default: "/api/chat")
	ChatPath string `mapstructure:"chat_path"`
	// PrivatePath is the private chat endpoint (default: "/api/private-chat")
	PrivatePath string `mapstructure:"private_path"`
	// CoordinatorPath is the verdict endpoint (default: "/api/coordinator")
	CoordinatorPath string `mapstructure:"coordinator_path"`
	// APIKey is sent as a bearer token when set
	APIKey string `mapstructure:"api_key"`
	// UserID is forwarded with every persona request
	UserID string `mapstructure:"user_id"`
	// TimeoutSeconds bounds a single streamed call (default: 60)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// RequestsPerSecond throttles outbound calls, 0 = unlimited
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst is the rate limiter burst size (default: 5)
	Burst int `mapstructure:"burst"`
}

// PacingConfig controls the human-like delays
type PacingConfig struct {
	// Scale multiplies every delay; 0 disables pacing (default: 1.0)
	Scale float64 `mapstructure:"scale"`
	// ReadingPauseMs is the pause between the last answer and the verdict (default: 1500)
	ReadingPauseMs int `mapstructure:"reading_pause_ms"`
	// Seed seeds the random source, 0 = random
	Seed uint64 `mapstructure:"seed"`
}

// DebateConfig controls debate rounds
type DebateConfig struct {
	// RoundBudget is the number of exchanges before asking the user (default: 5)
	RoundBudget int `mapstructure:"round_budget"`
	// InterRoundPauseMs separates consecutive exchanges (default: 1200)
	InterRoundPauseMs int `mapstructure:"inter_round_pause_ms"`
}

// AllianceConfig controls gossip delivery
type AllianceConfig struct {
	Enabled                    bool    `mapstructure:"enabled"`
	DailyLimit                 int     `mapstructure:"daily_limit"`
	SamePersonaCooldownMinutes int     `mapstructure:"same_persona_cooldown_minutes"`
	GlobalCooldownMinutes      int     `mapstructure:"global_cooldown_minutes"`
	DeliveryDelayMinSeconds    int     `mapstructure:"delivery_delay_min_seconds"`
	DeliveryDelayMaxSeconds    int     `mapstructure:"delivery_delay_max_seconds"`
	PostDebateProbability      float64 `mapstructure:"post_debate_probability"`
	HarshProbability           float64 `mapstructure:"harsh_probability"`
	RandomProbability          float64 `mapstructure:"random_probability"`
}

// ServerConfig controls the HTTP server
type ServerConfig struct {
	// Addr is the listen address (default: ":8080")
	Addr string `mapstructure:"addr"`
	// ShutdownTimeoutSeconds bounds graceful shutdown (default: 10)
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir writes council.log there instead of stderr when set
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:           "http://localhost:3000",
			ChatPath:          "/api/chat",
			PrivatePath:       "/api/private-chat",
			CoordinatorPath:   "/api/coordinator",
			TimeoutSeconds:    60,
			RequestsPerSecond: 0, // Unlimited
			Burst:             5,
		},
		Pacing: PacingConfig{
			Scale:          1.0,
			ReadingPauseMs: 1500,
			Seed:           0,
		},
		Debate: DebateConfig{
			RoundBudget:       5,
			InterRoundPauseMs: 1200,
		},
		Alliance: AllianceConfig{
			Enabled:                    true,
			DailyLimit:                 5,
			SamePersonaCooldownMinutes: 30,
			GlobalCooldownMinutes:      10,
			DeliveryDelayMinSeconds:    120,
			DeliveryDelayMaxSeconds:    300,
			PostDebateProbability:      0.4,
			HarshProbability:           0.5,
			RandomProbability:          0.1,
		},
		Server: ServerConfig{
			Addr:                   ":8080",
			ShutdownTimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
	}
}

// Timeout returns the per-call timeout as a time.Duration
func (c *BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReadingPause returns the reading pause as a time.Duration
func (c *PacingConfig) ReadingPause() time.Duration {
	return time.Duration(c.ReadingPauseMs) * time.Millisecond
}

// InterRoundPause returns the inter-round pause as a time.Duration
func (c *DebateConfig) InterRoundPause() time.Duration {
	return time.Duration(c.InterRoundPauseMs) * time.Millisecond
}

// SamePersonaCooldown returns the per-persona cooldown as a time.Duration
func (c *AllianceConfig) SamePersonaCooldown() time.Duration {
	return time.Duration(c.SamePersonaCooldownMinutes) * time.Minute
}

// GlobalCooldown returns the global cooldown as a time.Duration
func (c *AllianceConfig) GlobalCooldown() time.Duration {
	return time.Duration(c.GlobalCooldownMinutes) * time.Minute
}

// DeliveryDelayMin returns the shortest delivery delay
func (c *AllianceConfig) DeliveryDelayMin() time.Duration {
	return time.Duration(c.DeliveryDelayMinSeconds) * time.Second
}

// DeliveryDelayMax returns the longest delivery delay
func (c *AllianceConfig) DeliveryDelayMax() time.Duration {
	return time.Duration(c.DeliveryDelayMaxSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound as a time.Duration
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Backend defaults
	viper.SetDefault("backend.base_url", defaults.Backend.BaseURL)
	viper.SetDefault("backend.chat_path", defaults.Backend.ChatPath)
	viper.SetDefault("backend.private_path", defaults.Backend.PrivatePath)
	viper.SetDefault("backend.coordinator_path", defaults.Backend.CoordinatorPath)
	viper.SetDefault("backend.api_key", defaults.Backend.APIKey)
	viper.SetDefault("backend.user_id", defaults.Backend.UserID)
	viper.SetDefault("backend.timeout_seconds", defaults.Backend.TimeoutSeconds)
	viper.SetDefault("backend.requests_per_second", defaults.Backend.RequestsPerSecond)
	viper.SetDefault("backend.burst", defaults.Backend.Burst)

	// Pacing defaults
	viper.SetDefault("pacing.scale", defaults.Pacing.Scale)
	viper.SetDefault("pacing.reading_pause_ms", defaults.Pacing.ReadingPauseMs)
	viper.SetDefault("pacing.seed", defaults.Pacing.Seed)

	// Debate defaults
	viper.SetDefault("debate.round_budget", defaults.Debate.RoundBudget)
	viper.SetDefault("debate.inter_round_pause_ms", defaults.Debate.InterRoundPauseMs)

	// Alliance defaults
	viper.SetDefault("alliance.enabled", defaults.Alliance.Enabled)
	viper.SetDefault("alliance.daily_limit", defaults.Alliance.DailyLimit)
	viper.SetDefault("alliance.same_persona_cooldown_minutes", defaults.Alliance.SamePersonaCooldownMinutes)
	viper.SetDefault("alliance.global_cooldown_minutes", defaults.Alliance.GlobalCooldownMinutes)
	viper.SetDefault("alliance.delivery_delay_min_seconds", defaults.Alliance.DeliveryDelayMinSeconds)
	viper.SetDefault("alliance.delivery_delay_max_seconds", defaults.Alliance.DeliveryDelayMaxSeconds)
	viper.SetDefault("alliance.post_debate_probability", defaults.Alliance.PostDebateProbability)
	viper.SetDefault("alliance.harsh_probability", defaults.Alliance.HarshProbability)
	viper.SetDefault("alliance.random_probability", defaults.Alliance.RandomProbability)

	// Server defaults
	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "council")
	}
	// Fall back to ~/.config/council
	home, err := os.UserHomeDir()
	if err != nil {
		return ".council"
	}
	return filepath.Join(home, ".config", "council")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
