package session

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/rickgao/fleetsync/internal/model"
	"github.com/rickgao/fleetsync/internal/poller"
	"github.com/rickgao/fleetsync/internal/reconcile"
	"github.com/rickgao/fleetsync/internal/router"
	"github.com/rickgao/fleetsync/internal/series"
	"github.com/rickgao/fleetsync/internal/store"
	"github.com/rickgao/fleetsync/internal/throttle"
)

var (
	_ router.Handler = (*Session)(nil)
	_ poller.Handler = (*Session)(nil)
)

// HandleStatus merges a pushed status update. The reconciler always sees it;
// only the store publish is throttled.
func (s *Session) HandleStatus(botID string, data json.RawMessage) {
	update, err := reconcile.Classify(botID, data)
	if err != nil {
		s.statusRejected.Add(1)
		s.logger.Warn("dropping status update", "bot_id", botID, "error", err)
		return
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	fleet := s.reconciler.Apply(update)
	if !s.throttle.Allow(throttle.ClassStatus, s.clk.Now()) {
		s.statusThrottled.Add(1)
		return
	}
	s.publishFleet(fleet, update.Kind)
}

// HandleBotEvent requests a full pull so a dropped status_update cannot
// leave the fleet stale.
func (s *Session) HandleBotEvent(ev router.BotEvent) {
	s.botEvents.Add(1)

	attrs := []any{"event", ev.Kind, "bot_id", ev.BotID}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}
	s.logger.Info("bot event", attrs...)

	s.poller.Trigger()
}

// HandleChat appends a pushed chat message unless it is a duplicate.
func (s *Session) HandleChat(msg model.ChatMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.appendChat(msg)
}

// HandlePulledStatus publishes a pulled status snapshot without throttling.
func (s *Session) HandlePulledStatus(data json.RawMessage) {
	update, err := reconcile.Classify("", data)
	if err != nil {
		s.statusRejected.Add(1)
		s.logger.Warn("dropping pulled status", "error", err)
		return
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.publishFleet(s.reconciler.Apply(update), update.Kind)
}

// HandleLedger rebuilds the performance series from a fresh ledger.
func (s *Session) HandleLedger(trades []model.TradeRecord) {
	points := series.Build(trades)
	if err := s.store.ReplaceSeries(points); err != nil {
		s.fenced("replace series", err)
		return
	}
	s.ledgerRebuilds.Add(1)
	s.logger.Debug("series rebuilt", "trades", len(trades), "points", len(points))
}

// handleState mirrors push channel transitions into the store. Becoming
// connected triggers one pull to pick up frames missed while down.
func (s *Session) handleState(state model.ConnectionState) {
	if err := s.store.SetConnectionState(state); err != nil {
		s.fenced("set connection state", err)
		return
	}
	s.logger.Debug("connection state changed", "state", state)

	if state == model.StateConnected {
		s.resyncs.Add(1)
		s.poller.Trigger()
	}
}

func (s *Session) publishFleet(fleet model.FleetStatus, kind reconcile.Kind) {
	if err := s.store.ApplyStatusUpdate(fleet); err != nil {
		s.fenced("apply status", err)
		return
	}
	s.statusPublished.Add(1)
	s.logger.Debug("fleet published", "kind", kind, "bots", len(fleet))
}

func (s *Session) appendChat(msg model.ChatMessage) {
	appended, err := s.store.AppendChatMessage(msg)
	switch {
	case err != nil:
		s.fenced("append chat", err)
	case appended:
		s.chatAppended.Add(1)
	default:
		s.chatDuplicates.Add(1)
		s.logger.Debug("duplicate chat message", "id", msg.ID)
	}
}

func (s *Session) fenced(op string, err error) {
	if errors.Is(err, store.ErrClosed) {
		s.fencedWrites.Add(1)
		s.logger.Debug("write after close ignored", "op", op)
		return
	}
	s.logger.Warn("store write failed", "op", op, "error", err)
}
