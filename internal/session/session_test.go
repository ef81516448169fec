package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/fleetsync/internal/connection"
	"github.com/rickgao/fleetsync/internal/model"
	"github.com/rickgao/fleetsync/internal/poller"
	"github.com/rickgao/fleetsync/internal/router"
	"github.com/rickgao/fleetsync/internal/store"
)

const (
	testWindow = time.Second
	testDelay  = 3 * time.Second

	alphaFrame = `{"type":"status_update","bot_id":"alpha","data":{"is_running":true,"config":{"strategy":"grid","symbol":"BTCUSDT","amount":"100"},"balances":{"USDT":"950.5"}}}`
	fleetJSON  = `{"alpha":{"is_running":false,"config":{"strategy":"grid","symbol":"BTCUSDT","amount":"100"}},"beta":{"is_running":true}}`
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeStatus struct {
	calls   atomic.Int32
	payload json.RawMessage
	err     error
}

func (f *fakeStatus) FetchStatus(context.Context) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.payload, f.err
}

type fakeChat struct {
	mu    sync.Mutex
	sent  []string
	reply model.ChatMessage
	err   error
}

func (f *fakeChat) SendChat(_ context.Context, text string) (model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.reply, f.err
}

func testConfig(url string) Config {
	return Config{
		Connection: connection.ManagerConfig{
			Client: connection.ClientConfig{
				URL:              url,
				HandshakeTimeout: 5 * time.Second,
				WriteTimeout:     time.Second,
				BufferSize:       100,
			},
			ReconnectDelay: testDelay,
		},
		Router:       router.DefaultRouterConfig(),
		Poller:       poller.Config{Interval: 5 * time.Second, Timeout: time.Second},
		StatusWindow: testWindow,
	}
}

func newTestSession(t *testing.T, url string, deps Deps) (*Session, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(epoch)
	deps.Clock = clk
	if deps.Status == nil {
		deps.Status = &fakeStatus{payload: json.RawMessage(fleetJSON)}
	}
	s, err := New(testConfig(url), deps, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, clk
}

func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func botStatus(running bool) json.RawMessage {
	if running {
		return json.RawMessage(`{"is_running":true,"balances":{"USDT":"10"}}`)
	}
	return json.RawMessage(`{"is_running":false,"balances":{"USDT":"10"}}`)
}

func TestNew_RequiresStatusSource(t *testing.T) {
	_, err := New(testConfig("ws://localhost:1"), Deps{}, nil)
	assert.ErrorIs(t, err, ErrNoStatusSource)
}

func TestHandleStatus_PublishesAndThrottles(t *testing.T) {
	s, clk := newTestSession(t, "ws://localhost:1", Deps{})

	s.HandleStatus("alpha", botStatus(true))
	require.Contains(t, s.Store().Fleet(), model.BotID("alpha"))

	// inside the window: merged but not published
	s.HandleStatus("beta", botStatus(true))
	assert.NotContains(t, s.Store().Fleet(), model.BotID("beta"))
	assert.Equal(t, int64(1), s.Stats().Session.StatusThrottled)

	clk.Advance(testWindow)
	s.HandleStatus("alpha", botStatus(false))

	fleet := s.Store().Fleet()
	require.Len(t, fleet, 2)
	assert.False(t, fleet["alpha"].IsRunning)
	assert.True(t, fleet["beta"].IsRunning, "throttled update carried by the next publish")
	assert.Equal(t, int64(2), s.Stats().Session.StatusPublished)
}

func TestStatusHandlers_ConcurrentPublishesMatchReconciler(t *testing.T) {
	cfg := testConfig("ws://localhost:1")
	cfg.StatusWindow = 0
	s, err := New(cfg, Deps{Status: &fakeStatus{}, Clock: clockwork.NewFakeClockAt(epoch)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })

	snapshots := []json.RawMessage{
		json.RawMessage(`{"alpha":{"is_running":true},"beta":{"is_running":false}}`),
		json.RawMessage(`{"gamma":{"is_running":true}}`),
	}
	bots := []string{"alpha", "beta", "gamma", "delta"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.HandleStatus(bots[(w+i)%len(bots)], botStatus(i%2 == 0))
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.HandlePulledStatus(snapshots[(w+i)%len(snapshots)])
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, s.reconciler.Snapshot(), s.Store().Fleet())
	assert.Equal(t, int64(8*200+8*50), s.Stats().Session.StatusPublished)
}

func TestHandleStatus_Malformed(t *testing.T) {
	s, _ := newTestSession(t, "ws://localhost:1", Deps{})

	s.HandleStatus("", json.RawMessage(`[1,2,3]`))
	s.HandleStatus("", json.RawMessage(`null`))

	assert.Equal(t, uint64(0), s.Store().Version())
	assert.Equal(t, int64(2), s.Stats().Session.StatusRejected)
}

func TestHandlePulledStatus_NotThrottled(t *testing.T) {
	s, _ := newTestSession(t, "ws://localhost:1", Deps{})

	s.HandleStatus("gamma", botStatus(true))
	s.HandlePulledStatus(json.RawMessage(fleetJSON))

	fleet := s.Store().Fleet()
	assert.Len(t, fleet, 2)
	assert.Contains(t, fleet, model.BotID("alpha"))
	assert.Contains(t, fleet, model.BotID("beta"))
	assert.NotContains(t, fleet, model.BotID("gamma"), "fleet snapshot replaces the map")
	assert.Equal(t, int64(1), s.Stats().Reconciled["fleet"])
}

func TestHandleChat_AssignsIDAndDedups(t *testing.T) {
	s, _ := newTestSession(t, "ws://localhost:1", Deps{})

	msg := model.ChatMessage{Origin: model.OriginAgent, Text: "filled", Timestamp: epoch}
	s.HandleChat(msg)
	msg.ID = "server-7"
	s.HandleChat(msg)

	chat := s.Store().Chat()
	require.Len(t, chat, 1)
	assert.NotEmpty(t, chat[0].ID)
	assert.Equal(t, int64(1), s.Stats().Session.ChatDuplicates)
}

func TestHandleLedger_BuildsSeries(t *testing.T) {
	s, _ := newTestSession(t, "ws://localhost:1", Deps{})

	trade := func(side model.Side, quote int64, at time.Time) model.TradeRecord {
		return model.TradeRecord{Timestamp: at, Symbol: "BTCUSDT", Side: side, QuoteQty: decimal.NewFromInt(quote)}
	}
	// most recent first
	s.HandleLedger([]model.TradeRecord{
		trade(model.SideBuy, 100, epoch.Add(2*time.Hour)),
		trade(model.SideSell, 150, epoch.Add(time.Hour)),
		trade(model.SideBuy, 50, epoch),
	})

	points := s.Store().Series()
	require.Len(t, points, 3)
	for i, want := range []int64{-50, 100, 0} {
		assert.True(t, points[i].Balance.Equal(decimal.NewFromInt(want)), "point %d = %s, want %d", i, points[i].Balance, want)
	}
}

func TestSendChatMessage(t *testing.T) {
	chat := &fakeChat{reply: model.ChatMessage{Origin: model.OriginAgent, Text: "3 bots running", Timestamp: epoch.Add(time.Second)}}
	s, _ := newTestSession(t, "ws://localhost:1", Deps{Chat: chat})

	reply, err := s.SendChatMessage(context.Background(), "  status?  ")
	require.NoError(t, err)
	assert.Equal(t, "3 bots running", reply.Text)
	assert.NotEmpty(t, reply.ID)
	assert.Equal(t, []string{"status?"}, chat.sent)

	transcript := s.Store().Chat()
	require.Len(t, transcript, 2)
	assert.Equal(t, model.OriginUser, transcript[0].Origin)
	assert.Equal(t, "status?", transcript[0].Text)
	assert.Equal(t, model.OriginAgent, transcript[1].Origin)
}

func TestSendChatMessage_FailureRecordsError(t *testing.T) {
	boom := errors.New("backend unavailable")
	s, _ := newTestSession(t, "ws://localhost:1", Deps{Chat: &fakeChat{err: boom}})

	_, err := s.SendChatMessage(context.Background(), "start grid")
	require.ErrorIs(t, err, boom)

	transcript := s.Store().Chat()
	require.Len(t, transcript, 2)
	assert.Equal(t, model.OriginUser, transcript[0].Origin)
	assert.Equal(t, model.OriginError, transcript[1].Origin)
	assert.Contains(t, transcript[1].Text, "backend unavailable")
}

func TestSendChatMessage_Rejected(t *testing.T) {
	s, _ := newTestSession(t, "ws://localhost:1", Deps{})

	_, err := s.SendChatMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrChatUnavailable)

	s2, _ := newTestSession(t, "ws://localhost:1", Deps{Chat: &fakeChat{}})
	_, err = s2.SendChatMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, s2.Store().Chat())
}

func TestClose_FencesWrites(t *testing.T) {
	s, _ := newTestSession(t, "ws://localhost:1", Deps{Chat: &fakeChat{}})
	require.NoError(t, s.Close(context.Background()))

	s.HandleStatus("alpha", botStatus(true))
	s.HandlePulledStatus(json.RawMessage(fleetJSON))
	s.HandleChat(model.ChatMessage{Text: "late", Timestamp: epoch})
	s.HandleLedger(nil)

	assert.Equal(t, uint64(0), s.Store().Version())
	assert.Equal(t, int64(4), s.Stats().Session.FencedWrites)

	_, err := s.SendChatMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, store.ErrClosed)

	assert.NoError(t, s.Close(context.Background()), "second close is a no-op")
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestSession_PushStatusReachesStore(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(alphaFrame))
		holdOpen(conn)
	})

	// pulls fail so only the pushed frame can populate the fleet
	status := &fakeStatus{err: errors.New("backend down")}
	s, _ := newTestSession(t, wsURL(server), Deps{Status: status})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, ok := s.Store().Fleet()["alpha"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, model.StateConnected, snap.Connection)
	assert.True(t, snap.Fleet["alpha"].Balances["USDT"].Equal(decimal.RequireFromString("950.5")))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSession_ConnectAndBotEventTriggerPulls(t *testing.T) {
	send := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		<-send
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bot_started","data":{"bot_id":"alpha"}}`))
		holdOpen(conn)
	})

	status := &fakeStatus{payload: json.RawMessage(fleetJSON)}
	s, _ := newTestSession(t, wsURL(server), Deps{Status: status})
	require.NoError(t, s.Start(context.Background()))

	// startup pull plus the resync after connecting
	require.Eventually(t, func() bool { return status.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Stats().Session.Resyncs)

	close(send)
	require.Eventually(t, func() bool { return status.calls.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Stats().Session.BotEvents)
	assert.Len(t, s.Store().Fleet(), 2)
}

func TestSession_RefreshNow(t *testing.T) {
	server := mockWSServer(t, holdOpen)

	status := &fakeStatus{payload: json.RawMessage(fleetJSON)}
	s, _ := newTestSession(t, wsURL(server), Deps{Status: status})

	assert.ErrorIs(t, s.RefreshNow(context.Background()), poller.ErrNotStarted)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.RefreshNow(context.Background()))
	assert.Len(t, s.Store().Fleet(), 2)
}

func TestSession_TeardownCancelsPendingReconnect(t *testing.T) {
	var accepted atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		accepted.Add(1)
	})

	s, clk := newTestSession(t, wsURL(server), Deps{})
	require.NoError(t, s.Start(context.Background()))

	// poll ticker plus the scheduled reconnect
	timersCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntilContext(timersCtx, 2))
	require.Eventually(t, func() bool {
		return s.Store().ConnectionState() == model.StateReconnecting
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close(context.Background()))
	version := s.Store().Version()

	clk.Advance(2 * testDelay)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, version, s.Store().Version())
	assert.Equal(t, model.StateReconnecting, s.Store().ConnectionState())
}
