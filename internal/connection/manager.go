package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fleetsync/internal/model"
)

// Manager owns the push channel: one live connection at a time, a fixed
// reconnect delay, and ordered frame delivery.
type Manager struct {
	cfg     ManagerConfig
	handler FrameHandler
	clk     clockwork.Clock
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	state  model.ConnectionState
	gen    uint64 // incremented per dial; stale attempts are ignored
	client Client
	timer    clockwork.Timer // pending reconnect, at most one
	timerSeq uint64          // identifies the pending timer; a fired callback with an older seq is ignored
	closed   bool

	// Listener delivery is serialized so observers see the final state last.
	notifyMu     sync.Mutex
	listeners    []func(model.ConnectionState)
	lastNotified model.ConnectionState

	attempts   atomic.Int64
	reconnects atomic.Int64
	drops      atomic.Int64
	frames     atomic.Int64
}

// NewManager creates a push channel manager. Frames are delivered to handler.
func NewManager(cfg ManagerConfig, handler FrameHandler, clk clockwork.Clock, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultManagerConfig().ReconnectDelay
	}

	return &Manager{
		cfg:     cfg,
		handler: handler,
		clk:     clk,
		logger:  logger.With("component", "connection"),
	}
}

// OnStateChange registers fn to be called after every state transition.
// Callbacks must not block.
func (m *Manager) OnStateChange(fn func(model.ConnectionState)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start opens the push channel.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("connection manager started",
		"url", m.cfg.Client.URL,
		"reconnect_delay", m.cfg.ReconnectDelay,
	)

	return m.Connect()
}

// Connect starts a connection attempt unless one is already live or in
// flight. A pending reconnect timer is superseded.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.ctx == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.state == model.StateConnecting || m.state == model.StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	m.gen++
	gen := m.gen
	m.state = model.StateConnecting
	m.wg.Add(1)
	m.mu.Unlock()

	m.notify()

	go m.dial(gen)
	return nil
}

// Stop cancels any pending reconnect, closes the connection, and waits for
// the read goroutine to exit or ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	client := m.client
	m.client = nil
	m.state = model.StateDisconnected
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("stopping connection manager")

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.notify()

	m.logger.Info("connection manager stopped")
	return nil
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the push channel is live.
func (m *Manager) Connected() bool {
	return m.State() == model.StateConnected
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		State:      m.State(),
		Attempts:   m.attempts.Load(),
		Reconnects: m.reconnects.Load(),
		Drops:      m.drops.Load(),
		Frames:     m.frames.Load(),
	}
}

// dial runs one connection attempt.
func (m *Manager) dial(gen uint64) {
	defer m.wg.Done()

	m.attempts.Add(1)
	client := NewClient(m.cfg.Client, m.logger)
	err := client.Connect(m.ctx)

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		client.Close()
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("connect failed", "error", err, "retry_in", m.cfg.ReconnectDelay)
		m.handleDrop(gen)
		return
	}
	m.client = client
	m.state = model.StateConnected
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("push channel connected", "url", m.cfg.Client.URL)
	m.notify()

	go m.readLoop(gen, client)
}

// readLoop hands frames to the handler until the connection fails.
func (m *Manager) readLoop(gen uint64, client Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-client.Messages():
			m.deliver(msg)
		case err := <-client.Errors():
			// Frames read before the failure are still delivered in order.
			m.drain(client)
			client.Close()
			m.logger.Warn("push channel lost", "error", err, "retry_in", m.cfg.ReconnectDelay)
			m.handleDrop(gen)
			return
		}
	}
}

func (m *Manager) drain(client Client) {
	for {
		select {
		case msg := <-client.Messages():
			m.deliver(msg)
		default:
			return
		}
	}
}

func (m *Manager) deliver(msg TimestampedMessage) {
	if m.ctx.Err() != nil {
		return
	}
	m.frames.Add(1)
	m.handler.HandleFrame(msg.Data)
}

// handleDrop moves to Reconnecting and schedules one reconnect attempt.
// Calls from superseded attempts are ignored.
func (m *Manager) handleDrop(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.drops.Add(1)
	m.client = nil
	m.state = model.StateReconnecting
	if m.timer == nil {
		m.timerSeq++
		seq := m.timerSeq
		m.timer = m.clk.AfterFunc(m.cfg.ReconnectDelay, func() { m.fireReconnect(seq) })
	}
	m.mu.Unlock()

	m.notify()
}

// fireReconnect runs when reconnect timer seq expires. A timer that was
// already firing when Connect or Stop replaced it must not clear its
// successor.
func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	if m.closed || m.timer == nil || seq != m.timerSeq {
		m.mu.Unlock()
		m.logger.Debug("superseded reconnect timer ignored", "seq", seq)
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.reconnects.Add(1)
	m.logger.Debug("attempting reconnection")
	if err := m.Connect(); err != nil {
		m.logger.Debug("reconnect skipped", "error", err)
	}
}

// notify delivers the current state to listeners if it changed since the
// last delivery.
func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	state := m.State()
	if state == m.lastNotified {
		return
	}
	m.lastNotified = state

	for _, fn := range m.listeners {
		fn(state)
	}
}
