package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/fleetsync/internal/api"
	"github.com/rickgao/fleetsync/internal/config"
	"github.com/rickgao/fleetsync/internal/database"
	"github.com/rickgao/fleetsync/internal/poller"
	"github.com/rickgao/fleetsync/internal/session"
	"github.com/rickgao/fleetsync/internal/version"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync session and serve the debug API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(parent context.Context) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("starting fleetsync",
		"version", version.Version,
		"commit", version.Commit,
		"config", a.configPath,
	)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	apiClient := api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithTradeLimit(cfg.Ledger.Limit),
	)

	var (
		ledger poller.LedgerSource = apiClient
		ping   func(context.Context) error
	)
	if cfg.Ledger.Source == config.LedgerSourcePostgres {
		logger.Info("connecting to ledger database",
			"host", cfg.Ledger.Database.Host,
			"port", cfg.Ledger.Database.Port,
			"database", cfg.Ledger.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Ledger.Database)
		if err != nil {
			return fmt.Errorf("connect ledger database: %w", err)
		}
		defer pool.Close()

		ledger = database.NewLedgerStore(pool, cfg.Ledger.Limit, logger)
		ping = pool.Ping
		logger.Info("ledger database connected")
	}

	sess, err := session.New(sessionConfig(cfg), session.Deps{
		Status: apiClient,
		Ledger: ledger,
		Chat:   apiClient,
	}, logger)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	// Start the debug server early so sync progress can be watched
	debugServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newDebugHandler(sess, ping, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting debug server", "port", cfg.Health.Port)
		if err := debugServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("debug server error", "error", err)
		}
	}()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	logger.Info("fleetsync running",
		"ws_url", cfg.API.WSURL,
		"ledger", cfg.Ledger.Source,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sess.Close(shutdownCtx); err != nil {
		logger.Warn("session close", "error", err)
	}
	debugServer.Shutdown(shutdownCtx)

	logger.Info("fleetsync stopped")
	return nil
}
