package binance

import (
	"testing"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	appconfig "tpoflow/config"
	"tpoflow/internal/channel"
	"tpoflow/models"
)

func minimalConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Feed = appconfig.FeedConfig{
		RestURL:           "https://example.com",
		WsURL:             "wss://example.com",
		CandleInterval:    "15m",
		WarmupBars:        50,
		OIPollInterval:    time.Minute,
		RequestsPerSecond: 5,
		BurstSize:         10,
		Timeout:           5 * time.Second,
	}
	return cfg
}

func TestNewComponents(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(cfg.Symbols, 8, 8)

	client := NewClient(cfg)
	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if NewFeed(cfg, ch) == nil {
		t.Fatal("NewFeed returned nil")
	}
	if NewOIPoller(cfg, client, ch) == nil {
		t.Fatal("NewOIPoller returned nil")
	}
}

func TestStreamURL(t *testing.T) {
	f := NewFeed(minimalConfig(), channel.NewChannels([]string{"BTCUSDT", "ETHUSDT"}, 8, 8))
	want := "wss://example.com/stream?streams=btcusdt@aggTrade/btcusdt@kline_15m/ethusdt@aggTrade/ethusdt@kline_15m"
	if got := f.streamURL(); got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
}

func TestParseAggTradeMessage(t *testing.T) {
	payload := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"43210.50","q":"0.25","T":1735776000000,"m":true}}`)

	ev, err := ParseStreamMessage(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != models.EventTrade {
		t.Fatalf("type = %v, want trade", ev.Type)
	}
	tr := ev.Trade
	if tr.Price != 43210.50 || tr.Quantity != 0.25 {
		t.Errorf("price/qty = %v/%v, want 43210.50/0.25", tr.Price, tr.Quantity)
	}
	// buyer was the maker, so the seller was the aggressor
	if tr.Side != models.TradeSideSell {
		t.Errorf("side = %v, want sell", tr.Side)
	}
	if !tr.Timestamp.Equal(time.UnixMilli(1735776000000)) {
		t.Errorf("timestamp = %v", tr.Timestamp)
	}
}

func TestParseKlineMessage(t *testing.T) {
	payload := []byte(`{"stream":"btcusdt@kline_15m","data":{"e":"kline","s":"BTCUSDT","k":{"t":1735776000000,"T":1735776899999,"o":"43000","h":"43300","l":"42900","c":"43250","v":"120.5","x":true}}}`)

	ev, err := ParseStreamMessage(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != models.EventCandle {
		t.Fatalf("type = %v, want candle", ev.Type)
	}
	c := ev.Candle
	if c.Open != 43000 || c.High != 43300 || c.Low != 42900 || c.Close != 43250 {
		t.Errorf("ohlc = %v/%v/%v/%v", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 120.5 {
		t.Errorf("volume = %v, want 120.5", c.Volume)
	}
	if !c.IsFinal {
		t.Error("expected final candle")
	}
}

func TestParseUnknownStreamIgnored(t *testing.T) {
	payload := []byte(`{"stream":"btcusdt@markPrice","data":{"e":"markPriceUpdate"}}`)
	ev, err := ParseStreamMessage(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev != nil {
		t.Errorf("unknown stream produced event %+v", ev)
	}
}

func TestParseMalformedPrice(t *testing.T) {
	payload := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"not-a-number","q":"1","T":0,"m":false}}`)
	if _, err := ParseStreamMessage(payload); err == nil {
		t.Error("expected error for malformed price")
	}
}

func TestKlineToCandle(t *testing.T) {
	k := &futures.Kline{
		OpenTime:  1735776000000,
		CloseTime: 1735776899999,
		Open:      "100.5",
		High:      "101",
		Low:       "99.5",
		Close:     "100.8",
		Volume:    "42",
	}
	c, err := klineToCandle("BTCUSDT", k)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !c.IsFinal {
		t.Error("warmup candles must be final")
	}
	if c.Open != 100.5 || c.Volume != 42 {
		t.Errorf("candle = %+v", c)
	}

	k.High = "bad"
	if _, err := klineToCandle("BTCUSDT", k); err == nil {
		t.Error("expected error for malformed kline")
	}
}
