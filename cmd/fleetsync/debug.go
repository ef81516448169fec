package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/fleetsync/internal/model"
	"github.com/rickgao/fleetsync/internal/series"
	"github.com/rickgao/fleetsync/internal/session"
	"github.com/rickgao/fleetsync/internal/store"
)

const maxChatBody = 64 << 10

// dashboard is the part of a session the debug API reads and drives.
type dashboard interface {
	Snapshot() store.Snapshot
	Stats() session.Stats
	RefreshNow(ctx context.Context) error
	SendChatMessage(ctx context.Context, text string) (model.ChatMessage, error)
}

// newDebugHandler creates the HTTP handler for health checks and the thin
// presentation endpoints. ping may be nil when no database is configured.
func newDebugHandler(d dashboard, ping func(context.Context) error, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		snap := d.Snapshot()
		health.Components["push_channel"] = snap.Connection
		if snap.Connection != model.StateConnected {
			health.Status = "degraded"
		}

		if ping != nil {
			if err := ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["ledger_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["ledger_db"] = "connected"
			}
		}

		health.Components["fleet"] = map[string]any{
			"bots": len(snap.Fleet),
		}

		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	})

	mux.HandleFunc("GET /debug/fleet", func(w http.ResponseWriter, r *http.Request) {
		fleet := d.Snapshot().Fleet
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(fleet),
			"ids":   fleet.IDs(),
			"bots":  fleet,
		})
	})

	mux.HandleFunc("GET /debug/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Snapshot().Chat)
	})

	mux.HandleFunc("GET /debug/series", func(w http.ResponseWriter, r *http.Request) {
		points := d.Snapshot().Series
		writeJSON(w, http.StatusOK, map[string]any{
			"summary": series.Summarize(points),
			"points":  points,
		})
	})

	mux.HandleFunc("GET /debug/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Stats())
	})

	mux.HandleFunc("POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		if err := d.RefreshNow(ctx); err != nil {
			logger.Warn("manual refresh failed", "error", err)
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": d.Snapshot().Version})
	})

	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		reply, err := d.SendChatMessage(r.Context(), req.Message)
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, session.ErrChatUnavailable), errors.Is(err, store.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err)
		case err != nil:
			writeError(w, http.StatusBadGateway, err)
		default:
			writeJSON(w, http.StatusOK, reply)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
