package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/fleetsync/internal/model"
)

// ErrNotStarted is returned by Pull before Start or after Stop.
var ErrNotStarted = errors.New("poller not running")

// StatusSource fetches the current fleet status payload.
type StatusSource interface {
	FetchStatus(ctx context.Context) (json.RawMessage, error)
}

// LedgerSource fetches the trade ledger, most recent first.
type LedgerSource interface {
	FetchTrades(ctx context.Context) ([]model.TradeRecord, error)
}

// Handler receives pulled results. Status and ledger are delivered
// independently so a failure of one never withholds the other.
type Handler interface {
	HandlePulledStatus(data json.RawMessage)
	HandleLedger(trades []model.TradeRecord)
}

// Config holds poller configuration.
type Config struct {
	Interval         time.Duration // Cadence while the push channel is down (default: 5s)
	BackstopSchedule string        // Cron spec for unconditional pulls (default: @every 30s, "" disables)
	Timeout          time.Duration // Per-pull deadline (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Second,
		BackstopSchedule: "@every 30s",
		Timeout:          10 * time.Second,
	}
}

// Stats provides statistics about the poller.
type Stats struct {
	Pulls       int64     `json:"pulls"`
	Failures    int64     `json:"failures"`
	Skipped     int64     `json:"skipped"`   // interval ticks while connected
	Coalesced   int64     `json:"coalesced"` // callers that joined an in-flight pull
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
}

// Poller periodically pulls state through request/response collaborators.
type Poller struct {
	cfg       Config
	status    StatusSource
	ledger    LedgerSource
	handler   Handler
	connected func() bool
	clk       clockwork.Clock
	logger    *slog.Logger

	cron    *cron.Cron
	group   singleflight.Group
	trigger chan struct{}

	// startSeq numbers pulls as they begin. A triggered pull only settles
	// for a pull numbered above triggerAfter.
	startSeq     atomic.Uint64
	triggerAfter atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Held for reading while a result is delivered; Stop takes it for
	// writing so no delivery happens after Stop returns.
	mu      sync.RWMutex
	started bool
	stopped bool

	pulls     atomic.Int64
	failures  atomic.Int64
	skipped   atomic.Int64
	coalesced atomic.Int64

	lastMu      sync.Mutex
	lastSuccess time.Time
	lastError   string
}

// New creates a new Poller. ledger may be nil. connected reports whether the
// push channel is live; nil means never.
func New(cfg Config, status StatusSource, ledger LedgerSource, handler Handler, connected func() bool, clk clockwork.Clock, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if connected == nil {
		connected = func() bool { return false }
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	logger = logger.With("component", "poller")
	cl := cronLogger{logger: logger}

	return &Poller{
		cfg:       cfg,
		status:    status,
		ledger:    ledger,
		handler:   handler,
		connected: connected,
		clk:       clk,
		logger:    logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		trigger: make(chan struct{}, 1),
	}
}

// Start begins the polling loop and the backstop schedule. An initial pull
// runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrNotStarted
	}

	if p.cfg.BackstopSchedule != "" {
		if _, err := p.cron.AddFunc(p.cfg.BackstopSchedule, func() { p.pull("backstop") }); err != nil {
			return fmt.Errorf("register backstop %q: %w", p.cfg.BackstopSchedule, err)
		}
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	p.wg.Add(1)
	go p.run()
	p.cron.Start()

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"backstop", p.cfg.BackstopSchedule,
	)

	return nil
}

// Stop cancels the ticker, the backstop schedule, and in-flight pulls.
// No result is delivered to the handler after Stop returns.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	cronDone := p.cron.Stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		<-cronDone.Done()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a pull without waiting for it. The pull that serves it
// begins after Trigger is called; a pull already in flight does not count.
// Requests made while one is already pending are merged.
func (p *Poller) Trigger() {
	seen := p.startSeq.Load()
	for {
		cur := p.triggerAfter.Load()
		if cur >= seen || p.triggerAfter.CompareAndSwap(cur, seen) {
			break
		}
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Pull performs a full pull and waits for it. Concurrent callers share one
// in-flight pull. The returned error joins status and ledger failures.
func (p *Poller) Pull(ctx context.Context) error {
	_, err := p.pullSeq(ctx)
	return err
}

// pullAfter waits for a pull that began after pull number after, joining one
// if it is already running.
func (p *Poller) pullAfter(ctx context.Context, after uint64) error {
	for {
		seq, err := p.pullSeq(ctx)
		if seq == 0 || seq > after {
			return err
		}
	}
}

// pullSeq joins or starts a pull and returns its number. The number is zero
// when no pull was observed.
func (p *Poller) pullSeq(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	running := p.started && !p.stopped
	p.mu.RUnlock()
	if !running {
		return 0, ErrNotStarted
	}

	ch := p.group.DoChan("pull", func() (any, error) {
		seq := p.startSeq.Add(1)
		return seq, p.fetch()
	})

	select {
	case res := <-ch:
		if res.Shared {
			p.coalesced.Add(1)
		}
		seq, _ := res.Val.(uint64)
		return seq, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()

	return Stats{
		Pulls:       p.pulls.Load(),
		Failures:    p.failures.Load(),
		Skipped:     p.skipped.Load(),
		Coalesced:   p.coalesced.Load(),
		LastSuccess: p.lastSuccess,
		LastError:   p.lastError,
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := p.clk.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pull("startup")

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			if p.connected() {
				p.skipped.Add(1)
				continue
			}
			p.pull("interval")
		case <-p.trigger:
			p.report("trigger", p.pullAfter(p.ctx, p.triggerAfter.Load()))
		}
	}
}

// pull runs a background pull and logs its outcome.
func (p *Poller) pull(reason string) {
	p.report(reason, p.Pull(p.ctx))
}

func (p *Poller) report(reason string, err error) {
	switch {
	case err == nil:
		p.logger.Debug("pull complete", "reason", reason)
	case p.ctx.Err() != nil, errors.Is(err, ErrNotStarted):
	default:
		p.logger.Warn("pull failed", "reason", reason, "error", err)
	}
}

// fetch pulls status and ledger concurrently and delivers each result that
// succeeded.
func (p *Poller) fetch() error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	p.pulls.Add(1)

	var (
		status    json.RawMessage
		trades    []model.TradeRecord
		statusErr error
		ledgerErr error
		g         errgroup.Group
	)

	g.Go(func() error {
		status, statusErr = p.status.FetchStatus(ctx)
		if statusErr != nil {
			statusErr = fmt.Errorf("fetch status: %w", statusErr)
		}
		return statusErr
	})
	if p.ledger != nil {
		g.Go(func() error {
			trades, ledgerErr = p.ledger.FetchTrades(ctx)
			if ledgerErr != nil {
				ledgerErr = fmt.Errorf("fetch trades: %w", ledgerErr)
			}
			return ledgerErr
		})
	}
	_ = g.Wait()

	if statusErr == nil {
		p.deliver(func() { p.handler.HandlePulledStatus(status) })
	}
	if p.ledger != nil && ledgerErr == nil {
		p.deliver(func() { p.handler.HandleLedger(trades) })
	}

	err := errors.Join(statusErr, ledgerErr)
	p.record(err)
	return err
}

func (p *Poller) deliver(fn func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return
	}
	fn()
}

func (p *Poller) record(err error) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()

	if err != nil {
		p.failures.Add(1)
		p.lastError = err.Error()
		return
	}
	p.lastSuccess = p.clk.Now()
	p.lastError = ""
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
