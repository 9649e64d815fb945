package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradegate/internal/breaker"
	"github.com/rustyeddy/tradegate/internal/types"
)

// Retry budget for do(): a transient network error or 5xx gets up to
// maxAttempts tries total, with exponential backoff between them, gated
// on the same breaker that trips on the same failures (spec.md §4.3
// "exponential backoff + retry budget" alongside the circuit breaker). A
// 4xx is never retried — it is the upstream telling us the request
// itself is wrong, not that the service is unavailable.
const (
	maxAttempts    = 3
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// OANDAAdapter is a real HTTP broker adapter, grounded on the teacher's
// broker/oanda.Client (bearer-token REST client with a resolvable base
// URL) but widened to the full Broker surface and hardened with a
// circuit breaker so a flaky upstream degrades instead of cascading
// failures into the risk/approval pipeline (spec.md §4.3).
type OANDAAdapter struct {
	baseURL   string
	token     string
	accountID string
	http      *http.Client
	breaker   *breaker.Breaker
	readOnly  bool
}

// OANDABaseURL resolves an environment name to its REST endpoint. Live
// trading is refused outright, mirroring the teacher's client.go, which
// treats "live" as an error rather than a silently-supported mode.
func OANDABaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo", "":
		return "https://api-fxpractice.oanda.com", nil
	case "live":
		return "", fmt.Errorf("oanda: live trading environment is not permitted by this adapter")
	default:
		return "", fmt.Errorf("oanda: unknown environment %q (want practice|live)", env)
	}
}

// NewOANDAAdapter builds an adapter for accountID against baseURL, using
// token for bearer auth. readOnly disables SubmitOrder/CancelOrder at the
// adapter boundary regardless of what upstream callers attempt.
func NewOANDAAdapter(baseURL, token, accountID string, readOnly bool) *OANDAAdapter {
	return &OANDAAdapter{
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		http:      &http.Client{Timeout: 10 * time.Second},
		breaker:   breaker.New(5, 30*time.Second),
		readOnly:  readOnly,
	}
}

func (a *OANDAAdapter) Connected() bool { return !a.breaker.Open() }

func (a *OANDAAdapter) do(ctx context.Context, method, path string, query map[string]string, body any) (io.ReadCloser, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("oanda: bad base url: %w", err)
	}
	u.Path = path
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var reqBody []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("oanda: encode request: %w", err)
		}
		reqBody = b
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !a.breaker.Allow() {
			return nil, fmt.Errorf("oanda: circuit breaker open, refusing call to %s", path)
		}

		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			a.breaker.RecordFailure()
			return nil, fmt.Errorf("oanda: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+a.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.http.Do(req)
		if err != nil {
			a.breaker.RecordFailure()
			lastErr = fmt.Errorf("oanda: %s %s: %w", method, path, err)
			continue
		}
		if resp.StatusCode >= 500 {
			a.breaker.RecordFailure()
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
			lastErr = fmt.Errorf("oanda: %s %s http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
			continue
		}
		if resp.StatusCode >= 400 {
			a.breaker.RecordFailure()
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
			return nil, fmt.Errorf("oanda: %s %s http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
		}
		a.breaker.RecordSuccess()
		return resp.Body, nil
	}
	return nil, lastErr
}

type oandaSummary struct {
	Account struct {
		Balance    string `json:"balance"`
		Currency   string `json:"currency"`
		NAV        string `json:"NAV"`
		MarginUsed string `json:"marginUsed"`
	} `json:"account"`
}

func (a *OANDAAdapter) GetPortfolio(ctx context.Context, accountID string) (types.Portfolio, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/summary", accountID), nil, nil)
	if err != nil {
		return types.Portfolio{}, err
	}
	defer body.Close()

	var summary oandaSummary
	if err := json.NewDecoder(body).Decode(&summary); err != nil {
		return types.Portfolio{}, fmt.Errorf("oanda: decode summary: %w", err)
	}
	nav, _ := decimal.NewFromString(summary.Account.NAV)
	balance, _ := decimal.NewFromString(summary.Account.Balance)

	positions, err := a.GetPositions(ctx, accountID)
	if err != nil {
		return types.Portfolio{}, err
	}

	return types.Portfolio{
		AccountID:  accountID,
		TotalValue: nav,
		Cash:       []types.Cash{{Currency: summary.Account.Currency, Total: balance}},
		Positions:  positions,
		Timestamp:  time.Now().UTC(),
	}, nil
}

type oandaPositionsResp struct {
	Positions []struct {
		Instrument string `json:"instrument"`
		Long       struct {
			Units             string `json:"units"`
			AverageInstPrice  string `json:"averagePrice"`
			UnrealizedPL      string `json:"unrealizedPL"`
			PL                string `json:"pl"`
		} `json:"long"`
		Short struct {
			Units            string `json:"units"`
			AverageInstPrice string `json:"averagePrice"`
			UnrealizedPL     string `json:"unrealizedPL"`
			PL               string `json:"pl"`
		} `json:"short"`
	} `json:"positions"`
}

func (a *OANDAAdapter) GetPositions(ctx context.Context, accountID string) ([]types.Position, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/openPositions", accountID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp oandaPositionsResp
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("oanda: decode positions: %w", err)
	}

	out := make([]types.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		leg := p.Long
		if leg.Units == "0" || leg.Units == "" {
			leg = p.Short
		}
		qty, _ := decimal.NewFromString(leg.Units)
		avg, _ := decimal.NewFromString(leg.AverageInstPrice)
		upnl, _ := decimal.NewFromString(leg.UnrealizedPL)
		rpnl, _ := decimal.NewFromString(leg.PL)
		out = append(out, types.Position{
			Instrument:    types.Instrument{Symbol: p.Instrument, Type: types.InstrumentFX},
			Quantity:      qty.Abs(),
			AverageCost:   avg,
			UnrealizedPnL: upnl,
			RealizedPnL:   rpnl,
		})
	}
	return out, nil
}

func (a *OANDAAdapter) GetCash(ctx context.Context, accountID string) ([]types.Cash, error) {
	p, err := a.GetPortfolio(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return p.Cash, nil
}

type oandaOrdersResp struct {
	Orders []struct {
		ID          string `json:"id"`
		Instrument  string `json:"instrument"`
		Units       string `json:"units"`
		Type        string `json:"type"`
		State       string `json:"state"`
		Price       string `json:"price"`
	} `json:"orders"`
}

func (a *OANDAAdapter) GetOpenOrders(ctx context.Context, accountID string) ([]types.OpenOrder, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/pendingOrders", accountID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp oandaOrdersResp
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("oanda: decode orders: %w", err)
	}

	out := make([]types.OpenOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		units, _ := decimal.NewFromString(o.Units)
		price, _ := decimal.NewFromString(o.Price)
		side := types.Buy
		if units.Sign() < 0 {
			side = types.Sell
		}
		out = append(out, types.OpenOrder{
			BrokerOrderID: o.ID,
			Instrument:    types.Instrument{Symbol: o.Instrument, Type: types.InstrumentFX},
			Side:          side,
			Quantity:      units.Abs(),
			AvgFillPrice:  price,
			Status:        oandaStateToStatus(o.State),
			UpdatedAt:     time.Now().UTC(),
		})
	}
	return out, nil
}

func oandaStateToStatus(state string) types.OrderStatus {
	switch strings.ToUpper(state) {
	case "FILLED":
		return types.BrokerFilled
	case "CANCELLED":
		return types.BrokerCancelled
	case "TRIGGERED", "PENDING":
		return types.BrokerNew
	default:
		return types.BrokerRejected
	}
}

type oandaPricingResp struct {
	Prices []struct {
		Instrument string `json:"instrument"`
		Bids       []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
		Time string `json:"time"`
	} `json:"prices"`
}

func (a *OANDAAdapter) GetMarketSnapshot(ctx context.Context, instrument types.Instrument) (types.MarketSnapshot, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/pricing", a.accountID), map[string]string{
		"instruments": instrument.Symbol,
	}, nil)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	defer body.Close()

	var resp oandaPricingResp
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("oanda: decode pricing: %w", err)
	}
	if len(resp.Prices) == 0 {
		return types.MarketSnapshot{}, fmt.Errorf("oanda: no price for %s", instrument.Symbol)
	}
	p := resp.Prices[0]
	if len(p.Bids) == 0 || len(p.Asks) == 0 {
		return types.MarketSnapshot{}, fmt.Errorf("oanda: incomplete price for %s", instrument.Symbol)
	}
	bid, _ := decimal.NewFromString(p.Bids[0].Price)
	ask, _ := decimal.NewFromString(p.Asks[0].Price)
	ts, err := time.Parse(time.RFC3339Nano, p.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	return types.MarketSnapshot{
		Instrument: instrument,
		Bid:        bid,
		Ask:        ask,
		Last:       bid.Add(ask).Div(decimal.NewFromInt(2)),
		Timestamp:  ts,
	}, nil
}

type oandaCandlesResp struct {
	Candles []struct {
		Time string `json:"time"`
		Mid  struct {
			O string `json:"o"`
			H string `json:"h"`
			L string `json:"l"`
			C string `json:"c"`
		} `json:"mid"`
		Volume int64 `json:"volume"`
	} `json:"candles"`
}

func (a *OANDAAdapter) GetMarketBars(ctx context.Context, instrument types.Instrument, tf Timeframe, limit int) ([]types.Bar, error) {
	if limit <= 0 {
		limit = 30
	}
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v3/instruments/%s/candles", instrument.Symbol), map[string]string{
		"granularity": oandaGranularity(tf),
		"count":       fmt.Sprintf("%d", limit),
		"price":       "M",
	}, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp oandaCandlesResp
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("oanda: decode candles: %w", err)
	}

	out := make([]types.Bar, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		ts, _ := time.Parse(time.RFC3339Nano, c.Time)
		o, _ := decimal.NewFromString(c.Mid.O)
		h, _ := decimal.NewFromString(c.Mid.H)
		l, _ := decimal.NewFromString(c.Mid.L)
		cl, _ := decimal.NewFromString(c.Mid.C)
		out = append(out, types.Bar{
			Timestamp: ts,
			Open:      o, High: h, Low: l, Close: cl,
			Volume: decimal.NewFromInt(c.Volume),
		})
	}
	return out, nil
}

func oandaGranularity(tf Timeframe) string {
	switch tf {
	case Minute1:
		return "M1"
	case Minute5:
		return "M5"
	case Hour1:
		return "H1"
	default:
		return "D"
	}
}

// InstrumentSearch lists the account's tradeable instruments from OANDA's
// /v3/accounts/{id}/instruments endpoint and keeps those whose name
// contains the upper-cased query (every instrument when query is empty).
func (a *OANDAAdapter) InstrumentSearch(ctx context.Context, query string, filters SearchFilters) ([]types.Candidate, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/instruments", a.accountID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp struct {
		Instruments []struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"instruments"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("oanda: decode instruments: %w", err)
	}

	q := strings.ToUpper(query)
	out := make([]types.Candidate, 0, len(resp.Instruments))
	for _, ins := range resp.Instruments {
		if query != "" && !strings.Contains(ins.Name, q) {
			continue
		}
		out = append(out, types.Candidate{
			Instrument: types.Instrument{Symbol: ins.Name, Type: types.InstrumentFX},
			Name:       ins.DisplayName,
			Score:      1.0,
		})
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

func (a *OANDAAdapter) InstrumentResolve(ctx context.Context, hint string) (types.Contract, error) {
	candidates, err := a.InstrumentSearch(ctx, hint, SearchFilters{Limit: 1})
	if err != nil {
		return types.Contract{}, err
	}
	if len(candidates) == 0 {
		return types.Contract{}, fmt.Errorf("oanda: no instrument resolved for hint %q", hint)
	}
	return types.Contract{ConID: candidates[0].Instrument.Symbol, Instrument: candidates[0].Instrument}, nil
}

type oandaOrderCreateResp struct {
	OrderFillTransaction struct {
		OrderID    string `json:"orderID"`
		Price      string `json:"price"`
		Units      string `json:"units"`
		Instrument string `json:"instrument"`
	} `json:"orderFillTransaction"`
	OrderCreateTransaction struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
}

// SubmitOrder places a market or limit order via the OANDA order-create
// endpoint. tokenID is not sent upstream — it exists purely so the
// interface refuses to be called without one, matching MockAdapter.
func (a *OANDAAdapter) SubmitOrder(ctx context.Context, intent types.OrderIntent, tokenID string) (types.OpenOrder, error) {
	if a.readOnly {
		return types.OpenOrder{}, &ReadOnlyError{Op: "submit_order"}
	}
	if tokenID == "" {
		return types.OpenOrder{}, fmt.Errorf("oanda: submit_order requires a token")
	}

	units := intent.Quantity
	if intent.Side == types.Sell {
		units = units.Neg()
	}

	orderReq := map[string]any{
		"order": map[string]any{
			"type":        oandaOrderType(intent.OrderType),
			"instrument":  intent.Instrument.Symbol,
			"units":       units.String(),
			"timeInForce": string(intent.TimeInForce),
		},
	}
	if intent.LimitPrice != nil {
		orderReq["order"].(map[string]any)["price"] = intent.LimitPrice.String()
	}

	body, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/v3/accounts/%s/orders", a.accountID), nil, orderReq)
	if err != nil {
		return types.OpenOrder{}, err
	}
	defer body.Close()

	var resp oandaOrderCreateResp
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return types.OpenOrder{}, fmt.Errorf("oanda: decode order response: %w", err)
	}

	id := resp.OrderFillTransaction.OrderID
	status := types.BrokerFilled
	price, _ := decimal.NewFromString(resp.OrderFillTransaction.Price)
	if id == "" {
		id = resp.OrderCreateTransaction.ID
		status = types.BrokerNew
	}

	return types.OpenOrder{
		BrokerOrderID: id,
		Instrument:    intent.Instrument,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		FilledQty:     intent.Quantity,
		AvgFillPrice:  price,
		Status:        status,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

func oandaOrderType(t types.OrderType) string {
	switch t {
	case types.OrderLMT:
		return "LIMIT"
	case types.OrderSTP:
		return "STOP"
	case types.OrderSTPLMT:
		return "STOP" // OANDA has no native stop-limit; caller narrows via a limit leg upstream.
	default:
		return "MARKET"
	}
}

func (a *OANDAAdapter) CancelOrder(ctx context.Context, brokerOrderID string) (types.OpenOrder, error) {
	if a.readOnly {
		return types.OpenOrder{}, &ReadOnlyError{Op: "cancel_order"}
	}
	body, err := a.do(ctx, http.MethodPut, fmt.Sprintf("/v3/accounts/%s/orders/%s/cancel", a.accountID, brokerOrderID), nil, nil)
	if err != nil {
		return types.OpenOrder{}, err
	}
	defer body.Close()
	return types.OpenOrder{BrokerOrderID: brokerOrderID, Status: types.BrokerCancelled, UpdatedAt: time.Now().UTC()}, nil
}

func (a *OANDAAdapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (types.OpenOrder, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/orders/%s", a.accountID, brokerOrderID), nil, nil)
	if err != nil {
		return types.OpenOrder{}, err
	}
	defer body.Close()

	var resp struct {
		Order struct {
			ID         string `json:"id"`
			State      string `json:"state"`
			Instrument string `json:"instrument"`
			Units      string `json:"units"`
			Price      string `json:"price"`
		} `json:"order"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return types.OpenOrder{}, fmt.Errorf("oanda: decode order status: %w", err)
	}
	units, _ := decimal.NewFromString(resp.Order.Units)
	price, _ := decimal.NewFromString(resp.Order.Price)
	side := types.Buy
	if units.Sign() < 0 {
		side = types.Sell
	}
	return types.OpenOrder{
		BrokerOrderID: resp.Order.ID,
		Instrument:    types.Instrument{Symbol: resp.Order.Instrument, Type: types.InstrumentFX},
		Side:          side,
		Quantity:      units.Abs(),
		AvgFillPrice:  price,
		Status:        oandaStateToStatus(resp.Order.State),
		UpdatedAt:     time.Now().UTC(),
	}, nil
}
