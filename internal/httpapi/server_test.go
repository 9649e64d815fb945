package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradegate/internal/config"
	"github.com/rustyeddy/tradegate/internal/core"
	"github.com/rustyeddy/tradegate/internal/types"
)

// newTestServer builds a Server against an in-memory mock broker and
// in-memory audit/kill-switch stores, mirroring cmd/tradegate/cmd/demo.go's
// demoCore so handler tests never touch disk.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Env = config.EnvDev
	c, err := core.New(cfg, ":memory:", ":memory:", ":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewServer(c, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthReportsBrokerAndKillSwitch(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.BrokerConnected)
	assert.False(t, resp.KillSwitchOn)
}

func TestHandleProposeNormalizesAndValidates(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	intent := types.OrderIntent{
		AccountID:   "SIM-001",
		Instrument:  types.Instrument{Symbol: "aapl", Type: types.InstrumentSTK},
		Side:        types.Buy,
		OrderType:   types.OrderMKT,
		Quantity:    decimal.NewFromInt(10),
		TimeInForce: types.TIFDay,
		Reason:      "test buy for normalization",
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/propose", intent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	proposed := resp["intent"].(map[string]any)
	instrument := proposed["instrument"].(map[string]any)
	assert.Equal(t, "AAPL", instrument["symbol"], "propose must normalize the symbol to uppercase")
}

func TestHandleProposeRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/propose", bytes.NewBufferString(`{"account_id": 5}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProposeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := `{"account_id":"SIM-001","instrument":{"symbol":"AAPL","type":"STK"},"side":"BUY",
"order_type":"MKT","quantity":"10","time_in_force":"DAY","reason":"x","not_a_real_field":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/propose", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "strict decoding must reject unrecognized fields")
}

func TestHandlePortfolioRequiresAccountID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/portfolio", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleKillSwitchActivateThenStatus(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/kill-switch/activate", map[string]string{
		"reason": "manual halt for test",
		"actor":  "tester",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodGet, "/api/v1/kill-switch/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["enabled"])
}

func TestCorrelationIDIsGeneratedAndEchoed(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestCorrelationIDIsPreservedWhenSupplied(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Correlation-Id", "corr-fixed-1")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "corr-fixed-1", rec.Header().Get("X-Correlation-Id"))
}
