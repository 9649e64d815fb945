package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TransactionPush is an early-wake signal for a single order transaction;
// it carries no authority over order state, it only tells the Order
// Submitter's poll loop to check sooner (spec.md §4.7 "poll loop is the
// single source of truth for terminal transitions").
type TransactionPush struct {
	OrderID string
	Type    string
}

// TransactionStream watches OANDA's transaction stream over a websocket
// and republishes fill/cancel events on a channel, grounded on the
// teacher's BaseWSClient read/write pump pattern (dial, read pump,
// watchdog reconnect) but narrowed to read-only consumption.
type TransactionStream struct {
	url   string
	token string

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan TransactionPush
}

func NewTransactionStream(baseURL, token, accountID string) *TransactionStream {
	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	return &TransactionStream{
		url:    fmt.Sprintf("%s/v3/accounts/%s/transactions/stream", wsURL, accountID),
		token:  token,
		events: make(chan TransactionPush, 64),
	}
}

// Events returns the channel of early-wake signals.
func (s *TransactionStream) Events() <-chan TransactionPush { return s.events }

// Run dials the stream and pumps messages until ctx is cancelled,
// reconnecting with backoff on transient failures.
func (s *TransactionStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (s *TransactionStream) runOnce(ctx context.Context) error {
	header := map[string][]string{"Authorization": {"Bearer " + s.token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("broker: transaction stream dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("broker: transaction stream read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg struct {
			Type    string `json:"type"`
			OrderID string `json:"orderID"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "HEARTBEAT" || msg.OrderID == "" {
			continue
		}
		select {
		case s.events <- TransactionPush{OrderID: msg.OrderID, Type: msg.Type}:
		default:
		}
	}
}

func (s *TransactionStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
