package processor

import (
	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

// FlowTracker accumulates aggressor-side volume for the in-progress bar and
// maintains cumulative delta, the same-direction streak and the out-of-band
// open-interest trend for one symbol.
type FlowTracker struct {
	symbol string
	cfg    appconfig.OrderFlowConfig
	log    *logger.Log

	buyVolume  float64
	sellVolume float64
	tradeCount int

	cvd      float64
	streak   int
	lastSign int

	oiLast  float64
	oiPrev  float64
	oiCount int
}

func NewFlowTracker(symbol string, cfg appconfig.OrderFlowConfig) *FlowTracker {
	t := &FlowTracker{
		symbol: symbol,
		cfg:    cfg,
		log:    logger.GetLogger(),
	}
	t.log.WithComponent("orderflow").WithFields(logger.Fields{
		"symbol":           symbol,
		"mode":             cfg.Mode,
		"streak_threshold": cfg.StreakThreshold,
	}).Info("flow tracker initialized")
	return t
}

// OnTrade folds one trade into the in-progress bar by aggressor side.
func (t *FlowTracker) OnTrade(trade models.Trade) {
	switch trade.Side {
	case models.TradeSideBuy:
		t.buyVolume += trade.Quantity
	case models.TradeSideSell:
		t.sellVolume += trade.Quantity
	default:
		t.log.WithComponent("orderflow").WithFields(logger.Fields{
			"symbol": t.symbol,
			"side":   trade.Side,
		}).Warn("trade with unknown side ignored")
		return
	}
	t.tradeCount++
}

// OnOpenInterest records an open-interest snapshot. The percent change stays
// unavailable until two snapshots exist.
func (t *FlowTracker) OnOpenInterest(oi models.OpenInterest) {
	t.oiPrev = t.oiLast
	t.oiLast = oi.Value
	t.oiCount++
}

// OnFinalCandle closes the in-progress bar: computes its delta, extends CVD
// and the streak, classifies the trend and resets the bar accumulators. A
// bar with no observed trades finalizes with delta zero and is flagged
// degraded rather than dropped.
func (t *FlowTracker) OnFinalCandle(c models.Candle) models.FlowSnapshot {
	delta := t.buyVolume - t.sellVolume
	t.cvd += delta

	sign := 0
	if delta > 0 {
		sign = 1
	} else if delta < 0 {
		sign = -1
	}

	flipped := sign != 0 && t.lastSign == -sign
	switch {
	case sign == 0:
		t.streak = 0
	case sign == t.lastSign:
		t.streak++
	default:
		t.streak = 1
	}
	t.lastSign = sign

	trend := models.FlowNeutral
	if sign > 0 && t.streak >= t.cfg.StreakThreshold {
		trend = models.FlowBullish
	} else if sign < 0 && t.streak >= t.cfg.StreakThreshold {
		trend = models.FlowBearish
	}

	degraded := t.tradeCount == 0
	if degraded {
		t.log.WithComponent("orderflow").WithFields(logger.Fields{
			"symbol":     t.symbol,
			"period_end": c.PeriodEnd,
		}).Warn("bar finalized with no trades, degraded")
	}

	snap := models.FlowSnapshot{
		Timestamp:    c.PeriodEnd,
		Delta:        delta,
		CVD:          t.cvd,
		BuyVolume:    t.buyVolume,
		SellVolume:   t.sellVolume,
		Streak:       t.streak,
		Trend:        trend,
		OI:           t.oiLast,
		DeltaFlipped: flipped,
		Degraded:     degraded,
	}
	if t.oiCount >= 2 && t.oiPrev != 0 {
		snap.OIChangePct = (t.oiLast - t.oiPrev) / t.oiPrev * 100
		snap.OIChangeValid = true
	}

	t.buyVolume = 0
	t.sellVolume = 0
	t.tradeCount = 0

	return snap
}
