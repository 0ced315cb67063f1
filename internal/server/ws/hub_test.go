package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// stubBus serves canned stream messages and records stream reads.
type stubBus struct {
	msgs     []domain.StreamMessage
	reads    int
	lastFrom string
}

func (b *stubBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (b *stubBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *stubBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (b *stubBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.reads++
	b.lastFrom = lastID
	return b.msgs, nil
}

func testClient(bus domain.SignalBus) *client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{Mode: "serve"})
	return &client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{domain.ChannelTrade: true},
	}
}

func TestSubscribeReplaysMissedTrades(t *testing.T) {
	bus := &stubBus{msgs: []domain.StreamMessage{
		{ID: "1700000000000-0", Payload: []byte(`{"market_id":"mkt-1"}`)},
		{ID: "1700000000001-0", Payload: []byte(`{"market_id":"mkt-2"}`)},
	}}
	c := testClient(bus)

	c.handleSubscription(subscribeMsg{
		Action:      "subscribe",
		Channels:    []string{domain.ChannelTrade},
		LastTradeID: "1699999999999-0",
	})

	if bus.reads != 1 {
		t.Fatalf("stream reads = %d, want 1", bus.reads)
	}
	if bus.lastFrom != "1699999999999-0" {
		t.Errorf("replay from = %q, want the client's last seen ID", bus.lastFrom)
	}
	if got := len(c.send); got != 2 {
		t.Fatalf("queued frames = %d, want 2", got)
	}

	var frame struct {
		Type     string          `json:"type"`
		StreamID string          `json:"stream_id"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(<-c.send, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != "trade_replay" || frame.StreamID != "1700000000000-0" {
		t.Errorf("unexpected frame: %+v", frame)
	}
	if string(frame.Payload) != `{"market_id":"mkt-1"}` {
		t.Errorf("payload = %s", frame.Payload)
	}
}

func TestSubscribeWithoutLastIDSkipsReplay(t *testing.T) {
	bus := &stubBus{}
	c := testClient(bus)

	c.handleSubscription(subscribeMsg{
		Action:   "subscribe",
		Channels: []string{domain.ChannelPhase},
	})

	if bus.reads != 0 {
		t.Errorf("stream reads = %d, want 0", bus.reads)
	}
	if !c.isSubscribed(domain.ChannelPhase) {
		t.Error("phase channel not subscribed")
	}
}
