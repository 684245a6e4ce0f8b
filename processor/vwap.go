package processor

import (
	"math"
	"time"

	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

// VWAPTracker maintains an anchored volume-weighted average price for one
// symbol using O(1) running sums, with standard deviation bands, a least
// squares slope over a trailing window, and pullback-and-continuation
// alignment flags.
type VWAPTracker struct {
	symbol string
	cfg    appconfig.VWAPConfig
	log    *logger.Log

	anchor time.Time
	sumPV  float64
	sumV   float64
	sumP2V float64

	// trailing VWAP values for the slope fit, newest last.
	history []float64

	barsSinceTouchUp int
	barsSinceTouchDn int
}

func NewVWAPTracker(symbol string, cfg appconfig.VWAPConfig) *VWAPTracker {
	t := &VWAPTracker{
		symbol:           symbol,
		cfg:              cfg,
		log:              logger.GetLogger(),
		barsSinceTouchUp: -1,
		barsSinceTouchDn: -1,
	}
	t.log.WithComponent("vwap").WithFields(logger.Fields{
		"symbol":        symbol,
		"anchor_period": cfg.AnchorPeriod.String(),
	}).Info("vwap tracker initialized")
	return t
}

func (t *VWAPTracker) reset(anchor time.Time) {
	t.anchor = anchor
	t.sumPV = 0
	t.sumV = 0
	t.sumP2V = 0
	t.history = t.history[:0]
	t.barsSinceTouchUp = -1
	t.barsSinceTouchDn = -1

	t.log.WithComponent("vwap").WithFields(logger.Fields{
		"symbol": t.symbol,
		"anchor": anchor,
	}).Info("vwap anchor reset")
}

// OnFinalCandle folds a finalized candle into the accumulator and returns the
// updated snapshot. The accumulation resets only when the candle crosses the
// configured anchor boundary.
func (t *VWAPTracker) OnFinalCandle(c models.Candle) models.VWAPSnapshot {
	anchor := c.PeriodStart.Truncate(t.cfg.AnchorPeriod)
	if t.anchor.IsZero() || !anchor.Equal(t.anchor) {
		t.reset(anchor)
	}

	tp := c.TypicalPrice()
	t.sumPV += tp * c.Volume
	t.sumV += c.Volume
	t.sumP2V += tp * tp * c.Volume

	var vwap, std float64
	if t.sumV > 0 {
		vwap = t.sumPV / t.sumV
		variance := t.sumP2V/t.sumV - vwap*vwap
		if variance > 0 {
			std = math.Sqrt(variance)
		}
	} else {
		vwap = c.Close
	}

	t.history = append(t.history, vwap)
	if max := t.cfg.SlopeLookbackBars; max > 0 && len(t.history) > max {
		t.history = t.history[len(t.history)-max:]
	}

	t.trackPullback(c, vwap)

	snap := models.VWAPSnapshot{
		Timestamp:  c.PeriodEnd,
		Value:      vwap,
		Upper1Std:  vwap + std,
		Lower1Std:  vwap - std,
		Upper2Std:  vwap + 2*std,
		Lower2Std:  vwap - 2*std,
		Slope:      t.slope(),
		PullbackUp: t.barsSinceTouchUp >= 0 && t.barsSinceTouchUp < t.cfg.PullbackWindowBars,
		PullbackDn: t.barsSinceTouchDn >= 0 && t.barsSinceTouchDn < t.cfg.PullbackWindowBars,
		AnchorTime: t.anchor,
	}
	snap.AlignedUp, snap.AlignedDn = t.alignment(c, vwap, snap)
	return snap
}

// trackPullback records how many bars ago price last touched the VWAP from
// each side, within the configured tolerance band.
func (t *VWAPTracker) trackPullback(c models.Candle, vwap float64) {
	tol := vwap * t.cfg.PullbackTolerancePercent / 100

	if t.barsSinceTouchUp >= 0 {
		t.barsSinceTouchUp++
	}
	if t.barsSinceTouchDn >= 0 {
		t.barsSinceTouchDn++
	}
	// A touch only counts as a pullback when the bar holds the level: a dip
	// to VWAP that closes far through it is a break, not a pullback.
	if c.Low <= vwap+tol && c.Close >= vwap-tol {
		t.barsSinceTouchUp = 0
	}
	if c.High >= vwap-tol && c.Close <= vwap+tol {
		t.barsSinceTouchDn = 0
	}
}

// alignment reports direction alignment: a close on the right side of VWAP,
// or a pullback to VWAP that resumed in the direction this bar.
func (t *VWAPTracker) alignment(c models.Candle, vwap float64, snap models.VWAPSnapshot) (up, dn bool) {
	tol := vwap * t.cfg.PullbackTolerancePercent / 100

	up = c.Close > vwap
	if !up && snap.PullbackUp && c.IsBullish() && c.Close >= vwap-tol {
		up = true
	}

	dn = c.Close < vwap
	if !dn && snap.PullbackDn && !c.IsBullish() && c.Close <= vwap+tol {
		dn = true
	}
	return up, dn
}

// slope fits a least squares line through the trailing VWAP values and
// returns its per-bar gradient. Fewer than two points yield zero.
func (t *VWAPTracker) slope() float64 {
	n := len(t.history)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range t.history {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	fn := float64(n)
	denom := fn*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}
