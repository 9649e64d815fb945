package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallDeniesUnknownTool(t *testing.T) {
	t.Parallel()
	gw := New(DefaultPolicy(), nil)
	_, err := gw.Call(context.Background(), "corr-1", "sess-1", "delete_everything", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestCallDeniesForbiddenParameter(t *testing.T) {
	t.Parallel()
	gw := New(DefaultPolicy(), nil)
	gw.Register("request_order_cancel", func(ctx context.Context, params any) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	_, err := gw.Call(context.Background(), "corr-2", "sess-1", "request_order_cancel",
		json.RawMessage(`{"broker_order_id":"MOCK-1","reason":"changed mind","token_id":"tok-1"}`))
	assert.Error(t, err)
}

func TestCallDeniesUnknownField(t *testing.T) {
	t.Parallel()
	gw := New(DefaultPolicy(), nil)
	gw.Register("market_snapshot", func(ctx context.Context, params any) (any, error) {
		return map[string]any{"symbol": "AAPL"}, nil
	})

	_, err := gw.Call(context.Background(), "corr-3", "sess-1", "market_snapshot",
		json.RawMessage(`{"symbol":"AAPL","unexpected_field":"x"}`))
	assert.Error(t, err)
}

func TestCallDeniesInvalidSymbolShape(t *testing.T) {
	t.Parallel()
	gw := New(DefaultPolicy(), nil)
	gw.Register("market_snapshot", func(ctx context.Context, params any) (any, error) {
		return map[string]any{}, nil
	})

	_, err := gw.Call(context.Background(), "corr-4", "sess-1", "market_snapshot",
		json.RawMessage(`{"symbol":"aapl!"}`))
	assert.Error(t, err, "lowercase/punctuated symbol must fail the uppercase,alphanum schema constraint")
}

func TestCallHappyPathRedactsAccountID(t *testing.T) {
	t.Parallel()
	gw := New(DefaultPolicy(), nil)
	gw.Register("portfolio", func(ctx context.Context, params any) (any, error) {
		return map[string]any{"account_id": "DU1234567", "total_value": "50000.00"}, nil
	})

	result, err := gw.Call(context.Background(), "corr-5", "sess-1", "portfolio", json.RawMessage(`{"account_id":"DU1234567"}`))
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.NotEqual(t, "DU1234567", m["account_id"])
	assert.Equal(t, "50000.00", m["total_value"])
}

func TestRateLimitDeniesAfterBudgetExhausted(t *testing.T) {
	t.Parallel()
	policy := DefaultPolicy()
	policy.PerToolPerMinute = 1
	policy.PerSessionPerMinute = 100
	policy.GlobalPerMinute = 100
	gw := New(policy, nil)
	gw.Register("market_snapshot", func(ctx context.Context, params any) (any, error) {
		return map[string]any{}, nil
	})

	raw := json.RawMessage(`{"symbol":"AAPL"}`)
	_, err := gw.Call(context.Background(), "corr-6", "sess-1", "market_snapshot", raw)
	require.NoError(t, err)

	_, err = gw.Call(context.Background(), "corr-6", "sess-1", "market_snapshot", raw)
	assert.Error(t, err, "second call within the same minute must be rate-limited")
}
