package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/rickgao/fleetsync/internal/connection"
	"github.com/rickgao/fleetsync/internal/model"
	"github.com/rickgao/fleetsync/internal/reconcile"
	"github.com/rickgao/fleetsync/internal/router"
)

func newStreamCmd(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Connect to the push channel and print classified frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.stream(cmd.Context(), cmd.OutOrStdout(), verbose)
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print full payload JSON")
	return cmd
}

func (a *app) stream(parent context.Context, out io.Writer, verbose bool) error {
	logger := a.logger

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rtr := router.NewRouter(router.DefaultRouterConfig(), &framePrinter{out: out, verbose: verbose}, logger)
	connMgr := connection.NewManager(connectionConfig(a.cfg), rtr, clockwork.NewRealClock(), logger)
	connMgr.OnStateChange(func(state model.ConnectionState) {
		fmt.Fprintf(out, "[STATE] %s\n", state)
	})

	if err := rtr.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if err := connMgr.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				connStats := connMgr.Stats()
				logger.Info("stats",
					"state", connStats.State,
					"reconnects", connStats.Reconnects,
					"frames", connStats.Frames,
					"router_routed", routerStats.MessagesRouted,
					"parse_errors", routerStats.ParseErrors,
					"unknown", routerStats.UnknownMessages,
					"queue_depth", routerStats.Queue.Depth,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "url", a.cfg.API.WSURL)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

// framePrinter writes one line per routed frame.
type framePrinter struct {
	out     io.Writer
	verbose bool
}

func (p *framePrinter) HandleStatus(botID string, data json.RawMessage) {
	update, err := reconcile.Classify(botID, data)
	if err != nil {
		fmt.Fprintf(p.out, "[STATUS] invalid bot=%q error=%v\n", botID, err)
		return
	}

	if p.verbose {
		fmt.Fprintf(p.out, "[STATUS %s] %s\n", update.Kind, data)
		return
	}

	switch update.Kind {
	case reconcile.KindFleet:
		fmt.Fprintf(p.out, "[STATUS fleet] bots=%d\n", len(update.Fleet))
	default:
		fmt.Fprintf(p.out, "[STATUS %s] bot=%s running=%t strategy=%s symbol=%s\n",
			update.Kind, update.BotID, update.Status.IsRunning,
			update.Status.Config.Strategy, update.Status.Config.Symbol)
	}
}

func (p *framePrinter) HandleBotEvent(ev router.BotEvent) {
	if ev.Error != "" {
		fmt.Fprintf(p.out, "[EVENT] %s bot=%s error=%q\n", ev.Kind, ev.BotID, ev.Error)
		return
	}
	fmt.Fprintf(p.out, "[EVENT] %s bot=%s\n", ev.Kind, ev.BotID)
}

func (p *framePrinter) HandleChat(msg model.ChatMessage) {
	if p.verbose {
		data, _ := json.MarshalIndent(msg, "", "  ")
		fmt.Fprintf(p.out, "[CHAT] %s\n", data)
		return
	}
	fmt.Fprintf(p.out, "[CHAT] origin=%s at=%s text=%q\n", msg.Origin, msg.Timestamp.Format(time.RFC3339), msg.Text)
}
