package reconcile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/fleetsync/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		botID   string
		data    string
		kind    Kind
		wantID  model.BotID
		wantErr error
	}{
		{
			name:   "explicit identity",
			botID:  "bot-7",
			data:   `{"is_running":true,"config":{"strategy":"grid","symbol":"BTCUSDT","amount":"100"}}`,
			kind:   KindBot,
			wantID: "bot-7",
		},
		{
			name:   "explicit identity wins over embedded",
			botID:  "bot-7",
			data:   `{"bot_id":"other","is_running":false}`,
			kind:   KindBot,
			wantID: "bot-7",
		},
		{
			name:   "legacy with embedded bot_id",
			data:   `{"bot_id":"bot-3","is_running":true}`,
			kind:   KindLegacy,
			wantID: "bot-3",
		},
		{
			name:   "legacy with camelCase id",
			data:   `{"botId":"bot-4","isRunning":true}`,
			kind:   KindLegacy,
			wantID: "bot-4",
		},
		{
			name:   "legacy derived from config",
			data:   `{"running":true,"config":{"strategy":"DCA","symbol":"ETHUSDT","amount":50}}`,
			kind:   KindLegacy,
			wantID: "dca_ethusdt",
		},
		{
			name:   "legacy without identity uses fallback",
			data:   `{"is_running":false,"balances":{"USDT":"10"}}`,
			kind:   KindLegacy,
			wantID: model.FallbackBotID,
		},
		{
			name: "fleet map",
			data: `{"bot-1":{"is_running":true},"bot-2":{"is_running":false}}`,
			kind: KindFleet,
		},
		{
			name: "empty fleet map",
			data: `{}`,
			kind: KindFleet,
		},
		{
			name:    "null payload",
			data:    `null`,
			wantErr: ErrEmptyPayload,
		},
		{
			name:    "absent payload",
			data:    ``,
			wantErr: ErrEmptyPayload,
		},
		{
			name:    "array payload",
			data:    `[1,2,3]`,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "fleet with non-object value",
			data:    `{"bot-1":42}`,
			wantErr: ErrMalformedPayload,
		},
		{
			name:    "bad quantity",
			botID:   "bot-1",
			data:    `{"balances":{"USDT":"lots"}}`,
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Classify(tt.botID, json.RawMessage(tt.data))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, u.Kind)
			if tt.kind != KindFleet {
				assert.Equal(t, tt.wantID, u.BotID)
				assert.Equal(t, tt.wantID, u.Status.BotID)
			}
		})
	}
}

func TestClassify_DecodesStatus(t *testing.T) {
	data := `{
		"is_running": true,
		"config": {"strategy": "grid", "symbol": "BTCUSDT", "amount": "250.5"},
		"balances": {"BTC": "0.0125", "USDT": 1000}
	}`

	u, err := Classify("bot-1", json.RawMessage(data))
	require.NoError(t, err)

	assert.True(t, u.Status.IsRunning)
	assert.Equal(t, "grid", u.Status.Config.Strategy)
	assert.Equal(t, "BTCUSDT", u.Status.Config.Symbol)
	assert.True(t, u.Status.Config.Amount.Equal(decimal.RequireFromString("250.5")))
	assert.True(t, u.Status.Balances["BTC"].Equal(decimal.RequireFromString("0.0125")))
	assert.True(t, u.Status.Balances["USDT"].Equal(decimal.NewFromInt(1000)))
}

func TestClassify_FleetIdentities(t *testing.T) {
	u, err := Classify("", json.RawMessage(`{"a":{"is_running":true},"b":{}}`))
	require.NoError(t, err)
	require.Equal(t, KindFleet, u.Kind)

	assert.Equal(t, []model.BotID{"a", "b"}, u.Fleet.IDs())
	assert.Equal(t, model.BotID("a"), u.Fleet["a"].BotID)
	assert.True(t, u.Fleet["a"].IsRunning)
}
