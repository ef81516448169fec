package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/fleetsync/internal/model"
)

// Router classifies push frames by type and dispatches them to a Handler.
// It implements connection.FrameHandler.
type Router struct {
	cfg     RouterConfig
	handler Handler
	logger  *slog.Logger
	now     func() time.Time

	queue *FrameQueue[[]byte]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	mu              sync.RWMutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
	byType          map[string]int64
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, handler Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultRouterConfig().QueueSize
	}

	r := &Router{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "router"),
		now:     time.Now,
		byType:  make(map[string]int64),
	}
	r.queue = NewFrameQueue[[]byte](cfg.QueueSize, cfg.MaxQueueDepth, func(depth int) {
		r.logger.Warn("frame queue backing up", "depth", depth, "max_depth", cfg.MaxQueueDepth)
	})
	return r
}

// Start begins dispatching queued frames.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started",
		"queue_size", r.cfg.QueueSize,
		"max_queue_depth", r.cfg.MaxQueueDepth,
	)

	return nil
}

// Stop gracefully shuts down the router. Frames still queued are discarded.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	return nil
}

// HandleFrame queues a raw frame for dispatch. It never blocks on the
// handler.
func (r *Router) HandleFrame(data []byte) {
	if !r.queue.Push(data) {
		r.logger.Debug("router stopped, dropping frame")
	}
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType := make(map[string]int64, len(r.byType))
	for k, v := range r.byType {
		byType[k] = v
	}

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
		ByType:           byType,
		Queue:            r.queue.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		data, ok := r.queue.Pop()
		if !ok {
			return
		}
		if r.ctx.Err() != nil {
			return
		}
		r.Route(data)
	}
}

// Route parses and dispatches a single frame synchronously. A malformed
// frame is counted and dropped; it never affects later frames.
func (r *Router) Route(data []byte) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.parseError("failed to parse envelope", err)
		return
	}
	if env.Type == "" {
		r.parseError("failed to parse envelope", ErrMissingType)
		return
	}

	switch env.Type {
	case TypeStatusUpdate:
		if isAbsent(env.Data) {
			r.parseError("failed to parse status update", ErrMissingData)
			return
		}
		r.handler.HandleStatus(env.BotID, env.Data)

	case TypeBotStarted, TypeBotStartFailed, TypeBotStopped:
		ev, err := r.parseBotEvent(env)
		if err != nil {
			r.parseError("failed to parse bot event", err)
			return
		}
		r.handler.HandleBotEvent(ev)

	case TypeChatMessage:
		msg, err := r.parseChat(env.Data)
		if err != nil {
			r.parseError("failed to parse chat message", err)
			return
		}
		r.handler.HandleChat(msg)

	default:
		r.logger.Debug("skipping message type", "type", env.Type)
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.routed++
	r.byType[env.Type]++
	r.mu.Unlock()
}

func (r *Router) parseError(msg string, err error) {
	r.logger.Warn(msg, "error", err)
	r.mu.Lock()
	r.parseErrors++
	r.mu.Unlock()
}

// parseBotEvent tolerates absent data; the identity falls back to the
// envelope's bot_id.
func (r *Router) parseBotEvent(env envelope) (BotEvent, error) {
	var wire botEventWire
	if !isAbsent(env.Data) {
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			return BotEvent{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}

	ev := BotEvent{
		Kind:  EventKind(env.Type),
		BotID: wire.BotID,
		Error: wire.Error,
	}
	if ev.BotID == "" {
		ev.BotID = env.BotID
	}
	return ev, nil
}

// parseChat decodes a pushed chat entry. A missing timestamp is replaced
// with the local receive time.
func (r *Router) parseChat(data json.RawMessage) (model.ChatMessage, error) {
	if isAbsent(data) {
		return model.ChatMessage{}, ErrMissingData
	}

	var wire chatWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.ChatMessage{}, fmt.Errorf("decode chat: %w", err)
	}
	if wire.Text == "" {
		return model.ChatMessage{}, ErrEmptyText
	}

	ts, ok, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return model.ChatMessage{}, err
	}
	if !ok {
		ts = r.now()
	}

	return model.ChatMessage{
		ID:        wire.ID,
		Origin:    parseOrigin(wire.Origin),
		Text:      wire.Text,
		Timestamp: ts,
	}, nil
}
