package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher republishes appended events to NATS for external subscribers
// (dashboards, alerting). It is grounded on the pack's NATSClient pattern
// (connect with reconnect options, best-effort Publish) but is
// intentionally fire-and-forget: a publish failure never blocks or fails
// the durable write it decorates.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("tradegate-audit"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

func (p *Publisher) Publish(event Event) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = p.conn.Publish(p.subject+"."+string(event.Kind), data)
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
}

// PublishingStore decorates a Store so every durable Append also gets a
// best-effort NATS publish, without making the publish part of the
// durability contract (spec.md §4.1 requires durability before return;
// the publish happens after and never affects the returned error).
type PublishingStore struct {
	Store
	publisher *Publisher
}

func WithPublisher(store Store, publisher *Publisher) *PublishingStore {
	return &PublishingStore{Store: store, publisher: publisher}
}

func (s *PublishingStore) Append(ctx context.Context, event Event) error {
	if err := s.Store.Append(ctx, event); err != nil {
		return err
	}
	s.publisher.Publish(event)
	return nil
}
