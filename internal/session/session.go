package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fleetsync/internal/connection"
	"github.com/rickgao/fleetsync/internal/model"
	"github.com/rickgao/fleetsync/internal/poller"
	"github.com/rickgao/fleetsync/internal/reconcile"
	"github.com/rickgao/fleetsync/internal/router"
	"github.com/rickgao/fleetsync/internal/store"
	"github.com/rickgao/fleetsync/internal/throttle"
)

var (
	ErrNoStatusSource  = errors.New("status source is required")
	ErrChatUnavailable = errors.New("chat sender not configured")
	ErrEmptyMessage    = errors.New("chat message is empty")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrClosed          = errors.New("session closed")
)

// ChatSender delivers an outbound chat message and returns the agent's reply.
type ChatSender interface {
	SendChat(ctx context.Context, text string) (model.ChatMessage, error)
}

// Config holds session configuration.
type Config struct {
	Connection   connection.ManagerConfig
	Router       router.RouterConfig
	Poller       poller.Config
	StatusWindow time.Duration // Minimum interval between pushed status publishes
}

// Deps are the external collaborators of a session.
type Deps struct {
	Status poller.StatusSource // required
	Ledger poller.LedgerSource // optional
	Chat   ChatSender          // optional
	Clock  clockwork.Clock     // defaults to the real clock
}

// Stats aggregates counters from every component.
type Stats struct {
	Session    Counters                `json:"session"`
	Connection connection.ManagerStats `json:"connection"`
	Router     router.RouterStats      `json:"router"`
	Poller     poller.Stats            `json:"poller"`
	Reconciled map[string]int64        `json:"reconciled"`
	Version    uint64                  `json:"store_version"`
}

// Counters are session-level statistics.
type Counters struct {
	StatusPublished int64 `json:"status_published"`
	StatusThrottled int64 `json:"status_throttled"`
	StatusRejected  int64 `json:"status_rejected"`
	BotEvents       int64 `json:"bot_events"`
	ChatAppended    int64 `json:"chat_appended"`
	ChatDuplicates  int64 `json:"chat_duplicates"`
	LedgerRebuilds  int64 `json:"ledger_rebuilds"`
	Resyncs         int64 `json:"resyncs"`
	FencedWrites    int64 `json:"fenced_writes"`
}

// Session owns the store and every producer that writes to it.
type Session struct {
	store      *store.Store
	reconciler *reconcile.Reconciler
	throttle   *throttle.Throttle
	router     *router.Router
	manager    *connection.Manager
	poller     *poller.Poller
	chat       ChatSender
	clk        clockwork.Clock
	logger     *slog.Logger

	// statusMu orders merge and publish so the store never holds an older
	// fleet than the reconciler's last publishable result.
	statusMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool

	statusPublished atomic.Int64
	statusThrottled atomic.Int64
	statusRejected  atomic.Int64
	botEvents       atomic.Int64
	chatAppended    atomic.Int64
	chatDuplicates  atomic.Int64
	ledgerRebuilds  atomic.Int64
	resyncs         atomic.Int64
	fencedWrites    atomic.Int64
}

// New assembles a session. Nothing runs until Start.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Session, error) {
	if deps.Status == nil {
		return nil, ErrNoStatusSource
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	s := &Session{
		store:      store.New(),
		reconciler: reconcile.NewReconciler(),
		throttle:   throttle.New(cfg.StatusWindow),
		chat:       deps.Chat,
		clk:        deps.Clock,
		logger:     logger.With("component", "session"),
	}

	s.router = router.NewRouter(cfg.Router, s, logger)
	s.manager = connection.NewManager(cfg.Connection, s.router, deps.Clock, logger)
	s.poller = poller.New(cfg.Poller, deps.Status, deps.Ledger, s, s.manager.Connected, deps.Clock, logger)
	s.manager.OnStateChange(s.handleState)

	return s, nil
}

// Start begins dispatching, polling, and connecting.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.router.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if err := s.poller.Start(ctx); err != nil {
		_ = s.router.Stop(ctx)
		return fmt.Errorf("start poller: %w", err)
	}
	if err := s.manager.Start(ctx); err != nil {
		_ = s.poller.Stop(ctx)
		_ = s.router.Stop(ctx)
		return fmt.Errorf("start connection: %w", err)
	}

	s.started = true
	s.logger.Info("session started")
	return nil
}

// Close tears the session down. The store is fenced first, so a reconnect
// or poll timer that fires during teardown cannot write to it.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.store.Close()

	var errs []error
	if err := s.manager.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop connection: %w", err))
	}
	if err := s.router.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop router: %w", err))
	}
	if err := s.poller.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}

	s.logger.Info("session closed")
	return errors.Join(errs...)
}

// RefreshNow performs a full pull and waits for it.
func (s *Session) RefreshNow(ctx context.Context) error {
	return s.poller.Pull(ctx)
}

// SendChatMessage records the user's message, sends it, and records the
// reply. On failure an error entry is recorded and the error returned.
func (s *Session) SendChatMessage(ctx context.Context, text string) (model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}
	if s.chat == nil {
		return model.ChatMessage{}, ErrChatUnavailable
	}

	user := model.ChatMessage{
		ID:        uuid.NewString(),
		Origin:    model.OriginUser,
		Text:      text,
		Timestamp: s.clk.Now().UTC(),
	}
	if _, err := s.store.AppendChatMessage(user); err != nil {
		return model.ChatMessage{}, err
	}

	reply, err := s.chat.SendChat(ctx, text)
	if err != nil {
		s.appendChat(model.ChatMessage{
			ID:        uuid.NewString(),
			Origin:    model.OriginError,
			Text:      err.Error(),
			Timestamp: s.clk.Now().UTC(),
		})
		return model.ChatMessage{}, fmt.Errorf("send chat: %w", err)
	}

	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	s.appendChat(reply)
	return reply, nil
}

// Snapshot returns a consistent view of the observable state.
func (s *Session) Snapshot() store.Snapshot {
	return s.store.Snapshot()
}

// Store exposes the read side of the state store.
func (s *Session) Store() *store.Store {
	return s.store
}

// Stats returns current statistics.
func (s *Session) Stats() Stats {
	reconciled := make(map[string]int64)
	for kind, n := range s.reconciler.Applied() {
		reconciled[kind.String()] = n
	}

	return Stats{
		Session: Counters{
			StatusPublished: s.statusPublished.Load(),
			StatusThrottled: s.statusThrottled.Load(),
			StatusRejected:  s.statusRejected.Load(),
			BotEvents:       s.botEvents.Load(),
			ChatAppended:    s.chatAppended.Load(),
			ChatDuplicates:  s.chatDuplicates.Load(),
			LedgerRebuilds:  s.ledgerRebuilds.Load(),
			Resyncs:         s.resyncs.Load(),
			FencedWrites:    s.fencedWrites.Load(),
		},
		Connection: s.manager.Stats(),
		Router:     s.router.Stats(),
		Poller:     s.poller.Stats(),
		Reconciled: reconciled,
		Version:    s.store.Version(),
	}
}
