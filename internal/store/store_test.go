package store

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/fleetsync/internal/model"
)

var ts = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestApplyStatusUpdate_CopiesInput(t *testing.T) {
	s := New()
	fleet := model.FleetStatus{"a": {BotID: "a", IsRunning: true}}

	require.NoError(t, s.ApplyStatusUpdate(fleet))
	fleet["b"] = model.BotStatus{BotID: "b"}

	assert.Len(t, s.Fleet(), 1)
	assert.Equal(t, uint64(1), s.Version())
}

func TestAppendChatMessage_Dedup(t *testing.T) {
	s := New()

	ok, err := s.AppendChatMessage(model.ChatMessage{ID: "1", Origin: model.OriginAgent, Text: "ok", Timestamp: ts})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AppendChatMessage(model.ChatMessage{ID: "2", Origin: model.OriginAgent, Text: "ok", Timestamp: ts})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AppendChatMessage(model.ChatMessage{ID: "3", Origin: model.OriginAgent, Text: "ok", Timestamp: ts.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, s.Chat(), 2)
	assert.Equal(t, uint64(2), s.Version())
}

func TestChat_SnapshotStableAcrossAppends(t *testing.T) {
	s := New()
	_, _ = s.AppendChatMessage(model.ChatMessage{Text: "a", Timestamp: ts})

	before := s.Chat()
	_, _ = s.AppendChatMessage(model.ChatMessage{Text: "b", Timestamp: ts})

	assert.Len(t, before, 1)
	assert.Len(t, s.Chat(), 2)
}

func TestReplaceSeries(t *testing.T) {
	s := New()
	points := []model.PerformancePoint{{Index: 1, Balance: decimal.NewFromInt(-5), Side: model.SideBuy}}

	require.NoError(t, s.ReplaceSeries(points))
	points[0].Index = 99

	assert.Equal(t, 1, s.Series()[0].Index)
}

func TestSetConnectionState_NoopOnSameState(t *testing.T) {
	s := New()

	require.NoError(t, s.SetConnectionState(model.StateConnecting))
	require.NoError(t, s.SetConnectionState(model.StateConnecting))

	assert.Equal(t, model.StateConnecting, s.ConnectionState())
	assert.Equal(t, uint64(1), s.Version())
}

func TestClose_FencesWrites(t *testing.T) {
	s := New()
	require.NoError(t, s.ApplyStatusUpdate(model.FleetStatus{"a": {BotID: "a"}}))

	s.Close()
	assert.True(t, s.Closed())

	assert.ErrorIs(t, s.ApplyStatusUpdate(model.FleetStatus{}), ErrClosed)
	_, err := s.AppendChatMessage(model.ChatMessage{Text: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.ReplaceSeries(nil), ErrClosed)
	assert.ErrorIs(t, s.SetConnectionState(model.StateConnected), ErrClosed)

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Len(t, snap.Fleet, 1)
	assert.Empty(t, snap.Chat)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := model.BotID(string(rune('a' + n)))
				_ = s.ApplyStatusUpdate(model.FleetStatus{id: {BotID: id}})
				_, _ = s.AppendChatMessage(model.ChatMessage{Text: string(id), Timestamp: ts.Add(time.Duration(j))})
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := s.Snapshot()
				assert.LessOrEqual(t, len(snap.Fleet), 1)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Chat(), 400)
}
