package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/fleetsync/internal/config"
	"github.com/rickgao/fleetsync/internal/connection"
	"github.com/rickgao/fleetsync/internal/poller"
	"github.com/rickgao/fleetsync/internal/router"
	"github.com/rickgao/fleetsync/internal/session"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "fleetsync",
		Short:         "Live fleet status, chat, and performance sync for trading bots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging, os.Stdout)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "configs/fleetsync.example.yaml", "path to config file")

	root.AddCommand(newRunCmd(a), newStreamCmd(a), newVersionCmd())
	return root
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func connectionConfig(cfg *config.Config) connection.ManagerConfig {
	return connection.ManagerConfig{
		Client: connection.ClientConfig{
			URL:              cfg.API.WSURL,
			HandshakeTimeout: cfg.Connection.HandshakeTimeout,
			PingInterval:     cfg.Connection.PingInterval,
			PingTimeout:      cfg.Connection.PingTimeout,
			WriteTimeout:     cfg.Connection.WriteTimeout,
			BufferSize:       cfg.Connection.BufferSize,
		},
		ReconnectDelay: cfg.Connection.ReconnectDelay,
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Connection: connectionConfig(cfg),
		Router:     router.DefaultRouterConfig(),
		Poller: poller.Config{
			Interval:         cfg.Poller.Interval,
			BackstopSchedule: cfg.Poller.Backstop(),
			Timeout:          cfg.Poller.Timeout,
		},
		StatusWindow: cfg.Throttle.StatusWindow,
	}
}

const shutdownTimeout = 10 * time.Second
