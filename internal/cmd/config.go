package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/council/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify council configuration",
	Long: `View or modify council configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  council config set backend.base_url https://grandmas.example.com
  council config set debate.round_budget 3
  council config set alliance.enabled false

Run 'council config show' to see every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n\n")
	}
	printConfig(out, config.Get())
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	apiKey := "(unset)"
	if cfg.Backend.APIKey != "" {
		apiKey = "(set)"
	}
	fmt.Fprintln(w, "backend:")
	fmt.Fprintf(w, "  base_url: %s\n", cfg.Backend.BaseURL)
	fmt.Fprintf(w, "  chat_path: %s\n", cfg.Backend.ChatPath)
	fmt.Fprintf(w, "  private_path: %s\n", cfg.Backend.PrivatePath)
	fmt.Fprintf(w, "  coordinator_path: %s\n", cfg.Backend.CoordinatorPath)
	fmt.Fprintf(w, "  api_key: %s\n", apiKey)
	fmt.Fprintf(w, "  user_id: %s\n", cfg.Backend.UserID)
	fmt.Fprintf(w, "  timeout_seconds: %d\n", cfg.Backend.TimeoutSeconds)
	fmt.Fprintf(w, "  requests_per_second: %g\n", cfg.Backend.RequestsPerSecond)
	fmt.Fprintf(w, "  burst: %d\n", cfg.Backend.Burst)

	fmt.Fprintln(w, "pacing:")
	fmt.Fprintf(w, "  scale: %g\n", cfg.Pacing.Scale)
	fmt.Fprintf(w, "  reading_pause_ms: %d\n", cfg.Pacing.ReadingPauseMs)
	fmt.Fprintf(w, "  seed: %d\n", cfg.Pacing.Seed)

	fmt.Fprintln(w, "debate:")
	fmt.Fprintf(w, "  round_budget: %d\n", cfg.Debate.RoundBudget)
	fmt.Fprintf(w, "  inter_round_pause_ms: %d\n", cfg.Debate.InterRoundPauseMs)

	fmt.Fprintln(w, "alliance:")
	fmt.Fprintf(w, "  enabled: %v\n", cfg.Alliance.Enabled)
	fmt.Fprintf(w, "  daily_limit: %d\n", cfg.Alliance.DailyLimit)
	fmt.Fprintf(w, "  same_persona_cooldown_minutes: %d\n", cfg.Alliance.SamePersonaCooldownMinutes)
	fmt.Fprintf(w, "  global_cooldown_minutes: %d\n", cfg.Alliance.GlobalCooldownMinutes)
	fmt.Fprintf(w, "  delivery_delay_min_seconds: %d\n", cfg.Alliance.DeliveryDelayMinSeconds)
	fmt.Fprintf(w, "  delivery_delay_max_seconds: %d\n", cfg.Alliance.DeliveryDelayMaxSeconds)
	fmt.Fprintf(w, "  post_debate_probability: %g\n", cfg.Alliance.PostDebateProbability)
	fmt.Fprintf(w, "  harsh_probability: %g\n", cfg.Alliance.HarshProbability)
	fmt.Fprintf(w, "  random_probability: %g\n", cfg.Alliance.RandomProbability)

	fmt.Fprintln(w, "server:")
	fmt.Fprintf(w, "  addr: %s\n", cfg.Server.Addr)
	fmt.Fprintf(w, "  shutdown_timeout_seconds: %d\n", cfg.Server.ShutdownTimeoutSeconds)

	fmt.Fprintln(w, "logging:")
	fmt.Fprintf(w, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  dir: %s\n", cfg.Logging.Dir)
}

// settableKeys maps each key config set accepts to its value kind.
var settableKeys = map[string]string{
	"backend.base_url":                       "string",
	"backend.chat_path":                      "string",
	"backend.private_path":                   "string",
	"backend.coordinator_path":               "string",
	"backend.api_key":                        "string",
	"backend.user_id":                        "string",
	"backend.timeout_seconds":                "int",
	"backend.requests_per_second":            "float",
	"backend.burst":                          "int",
	"pacing.scale":                           "float",
	"pacing.reading_pause_ms":                "int",
	"pacing.seed":                            "int",
	"debate.round_budget":                    "int",
	"debate.inter_round_pause_ms":            "int",
	"alliance.enabled":                       "bool",
	"alliance.daily_limit":                   "int",
	"alliance.same_persona_cooldown_minutes": "int",
	"alliance.global_cooldown_minutes":       "int",
	"alliance.delivery_delay_min_seconds":    "int",
	"alliance.delivery_delay_max_seconds":    "int",
	"alliance.post_debate_probability":       "float",
	"alliance.harsh_probability":             "float",
	"alliance.random_probability":            "float",
	"server.addr":                            "string",
	"server.shutdown_timeout_seconds":        "int",
	"logging.level":                          "string",
	"logging.dir":                            "string",
}

// parseSetting converts value to the kind registered for key.
func parseSetting(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'council config show' to see valid keys", key)
	}
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a number", key)
		}
		return f, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	typed, err := parseSetting(key, value)
	if err != nil {
		return err
	}

	prev := viper.Get(key)
	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		viper.Set(key, prev)
		return fmt.Errorf("refusing to save: %w", err)
	}

	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := config.ConfigFile()
	if used := viper.ConfigFileUsed(); used != "" {
		configFile = used
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\nConfig saved to %s\n", key, typed, configFile)
	return nil
}

const defaultConfigYAML = `# council configuration

# Where the persona and coordinator endpoints live
backend:
  base_url: http://localhost:3000
  chat_path: /api/chat
  private_path: /api/private-chat
  coordinator_path: /api/coordinator
  # Sent as a bearer token when set
  api_key: ""
  # Scopes the backend's long-term memory
  user_id: ""
  timeout_seconds: 60
  # 0 = unlimited
  requests_per_second: 0
  burst: 5

# Human-like delays; scale 0 turns them off
pacing:
  scale: 1.0
  reading_pause_ms: 1500
  # 0 = random
  seed: 0

debate:
  # Exchanges before the council asks whether to keep going
  round_budget: 5
  inter_round_pause_ms: 1200

# Private gossip after group conversations
alliance:
  enabled: true
  daily_limit: 5
  same_persona_cooldown_minutes: 30
  global_cooldown_minutes: 10
  delivery_delay_min_seconds: 120
  delivery_delay_max_seconds: 300
  post_debate_probability: 0.4
  harsh_probability: 0.5
  random_probability: 0.1

server:
  addr: ":8080"
  shutdown_timeout_seconds: 10

logging:
  # debug, info, warn, error
  level: info
  # Empty logs to stderr
  dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'council config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigYAML), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: COUNCIL_* (e.g., COUNCIL_BACKEND_BASE_URL), also read from ./.env")
	fmt.Fprintf(out, "Valid keys: %s\n", strings.Join(sortedKeys(), ", "))
	return nil
}

func sortedKeys() []string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
