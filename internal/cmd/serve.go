package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/council/internal/server"
	"github.com/Iron-Ham/council/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve council sessions over HTTP",
	Long: `Start the HTTP server. Each client creates its own session, posts
questions to it and follows the conversation on the websocket at
/v1/sessions/{id}/events.

Changes to logging.level in the config file take effect without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()
	watchLogLevel(logger)

	sessions := session.NewManager(sessionConfig(cfg, newStreamer(cfg.Backend), logger))
	srv := server.New(sessions, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("council server starting",
		"addr", cfg.Server.Addr,
		"backend", cfg.Backend.BaseURL,
		"alliance", cfg.Alliance.Enabled,
	)
	if err := srv.Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout()); err != nil {
		logger.Error("server stopped", "error", err)
		return err
	}
	logger.Info("council server stopped")
	return nil
}
