package channel

import (
	"context"
	"sync"
	"time"

	"tpoflow/logger"
	"tpoflow/models"
)

// Stats counts delivered and dropped messages per channel group.
type Stats struct {
	EventsSent     int64
	EventsDropped  int64
	SignalsSent    int64
	SignalsDropped int64
}

// Channels owns one buffered market-event queue per symbol plus the shared
// signal channel feeding the alert sink. Each symbol's queue has exactly one
// consumer, which preserves per-symbol arrival order.
type Channels struct {
	events  map[string]chan models.MarketEvent
	Signals chan models.SignalEvent

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

// NewChannels builds the queue set for the given symbols.
func NewChannels(symbols []string, eventBuffer, signalBuffer int) *Channels {
	log := logger.GetLogger()
	events := make(map[string]chan models.MarketEvent, len(symbols))
	for _, s := range symbols {
		events[s] = make(chan models.MarketEvent, eventBuffer)
	}

	c := &Channels{
		events:  events,
		Signals: make(chan models.SignalEvent, signalBuffer),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"symbols":       len(symbols),
		"event_buffer":  eventBuffer,
		"signal_buffer": signalBuffer,
	}).Info("channels initialized")

	return c
}

// Events returns the receive side of a symbol's queue, nil for unknown symbols.
func (c *Channels) Events(symbol string) <-chan models.MarketEvent {
	return c.events[symbol]
}

// Close closes every queue. Only the producers (feed reader, main) may call
// this, after they have stopped sending.
func (c *Channels) Close() {
	for _, ch := range c.events {
		close(ch)
	}
	close(c.Signals)
	c.log.WithComponent("channels").Info("channels closed")
}

// SendEvent delivers a market event to the symbol's queue without blocking.
// A full queue drops the event and counts it; analysis degrades rather than
// backpressuring the feed.
func (c *Channels) SendEvent(ctx context.Context, ev models.MarketEvent) bool {
	ch, ok := c.events[ev.Symbol]
	if !ok {
		return false
	}
	select {
	case ch <- ev:
		c.statsMutex.Lock()
		c.stats.EventsSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.EventsDropped++
		c.statsMutex.Unlock()
		c.log.WithComponent("channels").WithFields(logger.Fields{
			"symbol": ev.Symbol,
			"type":   ev.Type,
		}).Warn("event queue full, dropping event")
		return false
	}
}

// SendSignal hands an emitted signal to the alert sink, best-effort. A slow
// or failing sink never stalls analysis.
func (c *Channels) SendSignal(ctx context.Context, sig models.SignalEvent) bool {
	select {
	case c.Signals <- sig:
		c.statsMutex.Lock()
		c.stats.SignalsSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.SignalsDropped++
		c.statsMutex.Unlock()
		c.log.WithComponent("channels").WithFields(logger.Fields{
			"symbol": sig.Symbol,
			"type":   sig.Type,
		}).Warn("signal channel full, dropping signal")
		return false
	}
}

// StartMetricsReporting logs queue statistics every 30 seconds until the
// context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()

	fields := logger.Fields{
		"events_sent":        stats.EventsSent,
		"events_dropped":     stats.EventsDropped,
		"signals_sent":       stats.SignalsSent,
		"signals_dropped":    stats.SignalsDropped,
		"signal_channel_len": len(c.Signals),
		"signal_channel_cap": cap(c.Signals),
	}
	for symbol, ch := range c.events {
		fields["event_queue_len_"+symbol] = len(ch)
	}

	c.log.WithComponent("channels").WithFields(fields).Info("channel statistics")
}

// GetStats returns a copy of the delivery counters.
func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
