package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rickgao/fleetsync/internal/model"
	"github.com/rickgao/fleetsync/internal/session"
	"github.com/rickgao/fleetsync/internal/store"
)

type fakeDashboard struct {
	snap       store.Snapshot
	refreshErr error
	refreshed  int
	chatErr    error
	sent       []string
}

func (f *fakeDashboard) Snapshot() store.Snapshot { return f.snap }
func (f *fakeDashboard) Stats() session.Stats     { return session.Stats{Version: f.snap.Version} }

func (f *fakeDashboard) RefreshNow(context.Context) error {
	f.refreshed++
	return f.refreshErr
}

func (f *fakeDashboard) SendChatMessage(_ context.Context, text string) (model.ChatMessage, error) {
	f.sent = append(f.sent, text)
	if f.chatErr != nil {
		return model.ChatMessage{}, f.chatErr
	}
	return model.ChatMessage{ID: "r1", Origin: model.OriginAgent, Text: "ok: " + text}, nil
}

func connectedDashboard() *fakeDashboard {
	return &fakeDashboard{snap: store.Snapshot{
		Version:    7,
		Connection: model.StateConnected,
		Fleet: model.FleetStatus{
			"alpha": {BotID: "alpha", IsRunning: true},
		},
		Series: []model.PerformancePoint{
			{Index: 1, Balance: decimal.NewFromInt(-50), Side: model.SideBuy},
			{Index: 2, Balance: decimal.NewFromInt(100), Side: model.SideSell},
		},
	}}
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      model.ConnectionState
		ping       func(context.Context) error
		wantCode   int
		wantStatus string
	}{
		{"connected", model.StateConnected, nil, http.StatusOK, "healthy"},
		{"reconnecting", model.StateReconnecting, nil, http.StatusOK, "degraded"},
		{"db down", model.StateConnected, func(context.Context) error { return errors.New("refused") }, http.StatusServiceUnavailable, "unhealthy"},
		{"db up", model.StateConnected, func(context.Context) error { return nil }, http.StatusOK, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := connectedDashboard()
			d.snap.Connection = tt.state
			h := newDebugHandler(d, tt.ping, nil)

			rec := serve(h, http.MethodGet, "/health", "")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body struct {
				Status     string         `json:"status"`
				Components map[string]any `json:"components"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Components["push_channel"] != tt.state.String() {
				t.Errorf("push_channel = %v, want %q", body.Components["push_channel"], tt.state.String())
			}
		})
	}
}

func TestDebugFleet(t *testing.T) {
	h := newDebugHandler(connectedDashboard(), nil, nil)

	rec := serve(h, http.MethodGet, "/debug/fleet", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}

	var body struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.IDs) != 1 || body.IDs[0] != "alpha" {
		t.Errorf("body = %+v", body)
	}
}

func TestDebugSeries(t *testing.T) {
	h := newDebugHandler(connectedDashboard(), nil, nil)

	rec := serve(h, http.MethodGet, "/debug/series", "")

	var body struct {
		Summary struct {
			Trades int    `json:"trades"`
			Final  string `json:"final"`
		} `json:"summary"`
		Points []json.RawMessage `json:"points"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Summary.Trades != 2 {
		t.Errorf("trades = %d, want 2", body.Summary.Trades)
	}
	if body.Summary.Final != "100" {
		t.Errorf("final = %q, want %q", body.Summary.Final, "100")
	}
	if len(body.Points) != 2 {
		t.Errorf("points = %d, want 2", len(body.Points))
	}
}

func TestRefresh(t *testing.T) {
	d := connectedDashboard()
	h := newDebugHandler(d, nil, nil)

	if rec := serve(h, http.MethodPost, "/refresh", ""); rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}

	d.refreshErr = errors.New("backend api error 503: unavailable")
	if rec := serve(h, http.MethodPost, "/refresh", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", rec.Code)
	}
	if d.refreshed != 2 {
		t.Errorf("refreshed = %d, want 2", d.refreshed)
	}

	if rec := serve(h, http.MethodGet, "/refresh", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /refresh code = %d, want 405", rec.Code)
	}
}

func TestChat(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		chatErr  error
		wantCode int
	}{
		{"ok", `{"message":"status?"}`, nil, http.StatusOK},
		{"bad json", `{"message":`, nil, http.StatusBadRequest},
		{"empty", `{"message":""}`, session.ErrEmptyMessage, http.StatusBadRequest},
		{"no sender", `{"message":"hi"}`, session.ErrChatUnavailable, http.StatusServiceUnavailable},
		{"closed", `{"message":"hi"}`, store.ErrClosed, http.StatusServiceUnavailable},
		{"backend", `{"message":"hi"}`, errors.New("timeout"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := connectedDashboard()
			d.chatErr = tt.chatErr
			h := newDebugHandler(d, nil, nil)

			rec := serve(h, http.MethodPost, "/chat", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestChatReply(t *testing.T) {
	d := connectedDashboard()
	h := newDebugHandler(d, nil, nil)

	rec := serve(h, http.MethodPost, "/chat", `{"message":"status?"}`)

	var reply model.ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Text != "ok: status?" {
		t.Errorf("reply = %q", reply.Text)
	}
	if len(d.sent) != 1 || d.sent[0] != "status?" {
		t.Errorf("sent = %v", d.sent)
	}
}
