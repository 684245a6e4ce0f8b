package channel

import (
	"context"
	"testing"
	"time"

	"tpoflow/models"
)

func TestSendEventDeliversToSymbolQueue(t *testing.T) {
	c := NewChannels([]string{"BTCUSDT"}, 2, 2)
	ctx := context.Background()

	ev := models.MarketEvent{Type: models.EventTrade, Symbol: "BTCUSDT", Trade: &models.Trade{Price: 100}}
	if !c.SendEvent(ctx, ev) {
		t.Fatalf("send should succeed")
	}

	select {
	case got := <-c.Events("BTCUSDT"):
		if got.Trade == nil || got.Trade.Price != 100 {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestSendEventUnknownSymbol(t *testing.T) {
	c := NewChannels([]string{"BTCUSDT"}, 1, 1)
	ev := models.MarketEvent{Type: models.EventTrade, Symbol: "ETHUSDT"}
	if c.SendEvent(context.Background(), ev) {
		t.Fatalf("send to unknown symbol should fail")
	}
}

func TestSendEventDropsWhenFull(t *testing.T) {
	c := NewChannels([]string{"BTCUSDT"}, 1, 1)
	ctx := context.Background()

	ev := models.MarketEvent{Type: models.EventTrade, Symbol: "BTCUSDT"}
	if !c.SendEvent(ctx, ev) {
		t.Fatalf("first send should succeed")
	}
	if c.SendEvent(ctx, ev) {
		t.Fatalf("second send should drop")
	}

	stats := c.GetStats()
	if stats.EventsSent != 1 || stats.EventsDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSendSignalDropsWhenFull(t *testing.T) {
	c := NewChannels([]string{"BTCUSDT"}, 1, 1)
	ctx := context.Background()

	sig := models.SignalEvent{Symbol: "BTCUSDT", Type: models.SignalLongEntry}
	if !c.SendSignal(ctx, sig) {
		t.Fatalf("first signal should succeed")
	}
	if c.SendSignal(ctx, sig) {
		t.Fatalf("second signal should drop, not block")
	}

	stats := c.GetStats()
	if stats.SignalsSent != 1 || stats.SignalsDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
