package cmd

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/council/internal/alliance"
	"github.com/Iron-Ham/council/internal/config"
	"github.com/Iron-Ham/council/internal/logging"
	"github.com/Iron-Ham/council/internal/session"
	"github.com/Iron-Ham/council/internal/transport"
)

// loadRuntime reads the validated config and opens the logger it names.
func loadRuntime() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open logger: %w", err)
	}
	return cfg, logger, nil
}

// newStreamer builds the backend client from the backend section.
func newStreamer(b config.BackendConfig) *transport.Client {
	return transport.NewClient(b.BaseURL,
		transport.WithAPIKey(b.APIKey),
		transport.WithUserID(b.UserID),
		transport.WithTimeout(b.Timeout()),
		transport.WithRateLimit(b.RequestsPerSecond, b.Burst),
	)
}

// sessionConfig maps the file config onto a session.Config.
func sessionConfig(cfg *config.Config, streamer transport.Streamer, logger *logging.Logger) session.Config {
	sc := session.DefaultConfig(streamer)
	sc.ChatPath = cfg.Backend.ChatPath
	sc.PrivatePath = cfg.Backend.PrivatePath
	sc.CoordinatorPath = cfg.Backend.CoordinatorPath
	sc.UserID = cfg.Backend.UserID

	sc.Seed = cfg.Pacing.Seed
	sc.PacingScale = cfg.Pacing.Scale
	sc.ReadingPause = cfg.Pacing.ReadingPause()
	sc.InterRoundPause = cfg.Debate.InterRoundPause()
	sc.RoundBudget = cfg.Debate.RoundBudget

	sc.AllianceEnabled = cfg.Alliance.Enabled
	sc.Alliance = alliance.Config{
		DailyLimit:          cfg.Alliance.DailyLimit,
		SamePersonaCooldown: cfg.Alliance.SamePersonaCooldown(),
		GlobalCooldown:      cfg.Alliance.GlobalCooldown(),
		DeliveryDelayMin:    cfg.Alliance.DeliveryDelayMin(),
		DeliveryDelayMax:    cfg.Alliance.DeliveryDelayMax(),
	}
	sc.Probabilities = alliance.Probabilities{
		PostDebate: cfg.Alliance.PostDebateProbability,
		Harsh:      cfg.Alliance.HarshProbability,
		Random:     cfg.Alliance.RandomProbability,
	}
	sc.Logger = logger
	return sc
}

// watchLogLevel applies logging.level changes from the config file
// without a restart. Other settings are read once at startup.
func watchLogLevel(logger *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		level := viper.GetString("logging.level")
		if !logging.IsValidLevel(level) {
			logger.Warn("ignoring invalid log level from config", "file", e.Name, "level", level)
			return
		}
		logger.SetLevel(level)
		logger.Info("log level reloaded", "file", e.Name, "level", logger.Level())
	})
	viper.WatchConfig()
}
