// Package store holds the observable dashboard state.
//
// The Store is written only through its explicit write API (by the session's
// push and pull handlers) and read by the presentation layer through
// snapshots. Every write replaces a key or a whole collection under the lock,
// so readers never see a partially applied update. Close fences all later
// writes so timers that fire after teardown cannot mutate the store.
package store

import (
	"errors"
	"sync"

	"github.com/rickgao/fleetsync/internal/dedup"
	"github.com/rickgao/fleetsync/internal/model"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("store closed")

// Snapshot is a consistent view of the whole store at one version.
type Snapshot struct {
	Version    uint64                   `json:"version"`
	Connection model.ConnectionState    `json:"connection"`
	Fleet      model.FleetStatus        `json:"fleet"`
	Chat       []model.ChatMessage      `json:"chat"`
	Series     []model.PerformancePoint `json:"series"`
}

// Store is the single holder of observable state.
type Store struct {
	mu      sync.RWMutex
	closed  bool
	version uint64

	conn   model.ConnectionState
	fleet  model.FleetStatus
	chat   []model.ChatMessage
	series []model.PerformancePoint
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		fleet:  make(model.FleetStatus),
		chat:   []model.ChatMessage{},
		series: []model.PerformancePoint{},
	}
}

// ApplyStatusUpdate publishes a reconciled fleet snapshot, replacing the
// previous one.
func (s *Store) ApplyStatusUpdate(fleet model.FleetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.fleet = fleet.Clone()
	s.version++
	return nil
}

// AppendChatMessage appends msg unless the transcript already holds a
// message with the same text and timestamp. It reports whether msg was
// appended.
func (s *Store) AppendChatMessage(msg model.ChatMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if !dedup.ShouldAppend(msg, s.chat) {
		return false, nil
	}

	// copy-on-write keeps previously returned snapshots stable
	next := make([]model.ChatMessage, len(s.chat), len(s.chat)+1)
	copy(next, s.chat)
	s.chat = append(next, msg)
	s.version++
	return true, nil
}

// ReplaceSeries publishes a freshly built performance series.
func (s *Store) ReplaceSeries(points []model.PerformancePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.series = append([]model.PerformancePoint{}, points...)
	s.version++
	return nil
}

// SetConnectionState records the push channel state.
func (s *Store) SetConnectionState(state model.ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.conn == state {
		return nil
	}
	s.conn = state
	s.version++
	return nil
}

// Fleet returns a copy of the fleet status map.
func (s *Store) Fleet() model.FleetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fleet.Clone()
}

// Chat returns the transcript. The returned slice must not be modified.
func (s *Store) Chat() []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat
}

// Series returns the performance series. The returned slice must not be
// modified.
func (s *Store) Series() []model.PerformancePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series
}

// ConnectionState returns the last recorded push channel state.
func (s *Store) ConnectionState() model.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Version increases by one on every successful write.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns all state at a single version.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Version:    s.version,
		Connection: s.conn,
		Fleet:      s.fleet.Clone(),
		Chat:       s.chat,
		Series:     s.series,
	}
}

// Close fences further writes. Reads keep working.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
