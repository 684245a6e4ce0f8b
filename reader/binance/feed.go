package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	appconfig "tpoflow/config"
	"tpoflow/internal/channel"
	"tpoflow/logger"
	"tpoflow/models"
)

const (
	readDeadline     = 3 * time.Minute
	reconnectMin     = time.Second
	reconnectMax     = 30 * time.Second
	reconnectBackoff = 2
)

// Feed consumes the Binance futures combined websocket stream, subscribing
// each symbol's aggTrade and kline streams, and forwards parsed events onto
// the per-symbol queues. The connection is re-dialed with backoff on failure.
type Feed struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics counters, accessed atomically
	messagesReceived int64
	parseErrors      int64
	reconnects       int64
}

func NewFeed(cfg *appconfig.Config, ch *channel.Channels) *Feed {
	return &Feed{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// streamURL builds the combined stream endpoint for the configured symbols.
func (f *Feed) streamURL() string {
	streams := make([]string, 0, len(f.config.Symbols)*2)
	for _, symbol := range f.config.Symbols {
		s := strings.ToLower(symbol)
		streams = append(streams,
			s+"@aggTrade",
			s+"@kline_"+f.config.Feed.CandleInterval,
		)
	}
	return f.config.Feed.WsURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("feed already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("binance_feed").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"symbols":  f.config.Symbols,
		"interval": f.config.Feed.CandleInterval,
	}).Info("starting binance feed")

	f.wg.Add(1)
	go f.connectLoop()

	go f.metricsReporter(ctx)

	log.Info("binance feed started successfully")
	return nil
}

func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("binance_feed").Info("stopping binance feed")
	f.wg.Wait()
	f.log.WithComponent("binance_feed").Info("binance feed stopped")
}

func (f *Feed) connectLoop() {
	defer f.wg.Done()

	log := f.log.WithComponent("binance_feed").WithFields(logger.Fields{"worker": "stream"})
	backoff := reconnectMin

	for {
		if f.ctx.Err() != nil {
			return
		}

		err := f.readStream(log)
		if f.ctx.Err() != nil {
			return
		}

		atomic.AddInt64(&f.reconnects, 1)
		log.WithError(err).WithFields(logger.Fields{
			"backoff": backoff.String(),
		}).Warn("stream disconnected, reconnecting")

		select {
		case <-f.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= reconnectBackoff
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (f *Feed) readStream(log *logger.Entry) error {
	url := f.streamURL()
	conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	log.WithFields(logger.Fields{"url": url}).Info("stream connected")

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	// unblock ReadMessage when the context is cancelled
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-f.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		atomic.AddInt64(&f.messagesReceived, 1)

		ev, err := ParseStreamMessage(payload)
		if err != nil {
			atomic.AddInt64(&f.parseErrors, 1)
			log.WithError(err).Debug("unparseable stream message ignored")
			continue
		}
		if ev == nil {
			continue
		}

		if !f.channels.SendEvent(f.ctx, *ev) && f.ctx.Err() == nil {
			log.WithFields(logger.Fields{
				"symbol": ev.Symbol,
				"type":   ev.Type,
			}).Warn("event channel full, message dropped")
		}
	}
}

// Wire structures of the combined stream.

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type aggTradeMessage struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

type klineMessage struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		EndTime   int64  `json:"T"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		IsFinal   bool   `json:"x"`
	} `json:"k"`
}

// ParseStreamMessage converts one combined-stream payload into a market
// event. Unknown stream types return nil without error.
func ParseStreamMessage(payload []byte) (*models.MarketEvent, error) {
	var msg combinedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal combined message: %w", err)
	}

	switch {
	case strings.Contains(msg.Stream, "@aggTrade"):
		return parseAggTrade(msg.Data)
	case strings.Contains(msg.Stream, "@kline"):
		return parseKline(msg.Data)
	default:
		return nil, nil
	}
}

func parseAggTrade(data []byte) (*models.MarketEvent, error) {
	var m aggTradeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal aggTrade: %w", err)
	}

	price, err := strconv.ParseFloat(m.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade price %q: %w", m.Price, err)
	}
	qty, err := strconv.ParseFloat(m.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parse trade quantity %q: %w", m.Quantity, err)
	}

	// the aggressor is the taker: when the buyer is the maker, the trade
	// was seller-initiated
	side := models.TradeSideBuy
	if m.IsBuyerMaker {
		side = models.TradeSideSell
	}

	return &models.MarketEvent{
		Type:   models.EventTrade,
		Symbol: m.Symbol,
		Trade: &models.Trade{
			Symbol:    m.Symbol,
			Price:     price,
			Quantity:  qty,
			Side:      side,
			Timestamp: time.UnixMilli(m.TradeTime),
		},
	}, nil
}

func parseKline(data []byte) (*models.MarketEvent, error) {
	var m klineMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal kline: %w", err)
	}

	open, err := strconv.ParseFloat(m.Kline.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parse open %q: %w", m.Kline.Open, err)
	}
	high, err := strconv.ParseFloat(m.Kline.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parse high %q: %w", m.Kline.High, err)
	}
	low, err := strconv.ParseFloat(m.Kline.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parse low %q: %w", m.Kline.Low, err)
	}
	cls, err := strconv.ParseFloat(m.Kline.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parse close %q: %w", m.Kline.Close, err)
	}
	volume, err := strconv.ParseFloat(m.Kline.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parse volume %q: %w", m.Kline.Volume, err)
	}

	return &models.MarketEvent{
		Type:   models.EventCandle,
		Symbol: m.Symbol,
		Candle: &models.Candle{
			Symbol:      m.Symbol,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       cls,
			Volume:      volume,
			PeriodStart: time.UnixMilli(m.Kline.StartTime),
			PeriodEnd:   time.UnixMilli(m.Kline.EndTime),
			IsFinal:     m.Kline.IsFinal,
		},
	}, nil
}

func (f *Feed) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.reportMetrics()
		}
	}
}

func (f *Feed) reportMetrics() {
	received := atomic.LoadInt64(&f.messagesReceived)
	parseErrors := atomic.LoadInt64(&f.parseErrors)
	reconnects := atomic.LoadInt64(&f.reconnects)

	f.log.LogMetric("binance_feed", "messages_received", received, "counter", logger.Fields{})
	f.log.LogMetric("binance_feed", "parse_errors", parseErrors, "counter", logger.Fields{})
	f.log.LogMetric("binance_feed", "reconnects", reconnects, "counter", logger.Fields{})

	f.log.WithComponent("binance_feed").WithFields(logger.Fields{
		"messages_received": received,
		"parse_errors":      parseErrors,
		"reconnects":        reconnects,
	}).Info("feed metrics")
}
