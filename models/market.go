package models

import (
	"time"
)

// TradeSide is the aggressor side of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade represents a single aggressor-classified trade from the exchange.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      TradeSide `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle represents OHLCV data for one period. Only candles with IsFinal set
// trigger state transitions in the analyzers.
type Candle struct {
	Symbol      string    `json:"symbol"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	IsFinal     bool      `json:"is_final"`
}

// TypicalPrice returns (H+L+C)/3, the price used for VWAP accumulation.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// OpenInterest is a periodic open-interest snapshot, polled out-of-band from
// the candle cadence.
type OpenInterest struct {
	Symbol    string    `json:"symbol"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketEventType discriminates the events delivered on a symbol's queue.
type MarketEventType string

const (
	EventTrade        MarketEventType = "trade"
	EventCandle       MarketEventType = "candle"
	EventOpenInterest MarketEventType = "open_interest"
)

// MarketEvent is the single envelope delivered on a per-symbol queue. Exactly
// one of Trade, Candle or OpenInterest is populated, matching Type.
type MarketEvent struct {
	Type         MarketEventType
	Symbol       string
	Trade        *Trade
	Candle       *Candle
	OpenInterest *OpenInterest
}
