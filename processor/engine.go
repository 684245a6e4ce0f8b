package processor

import (
	"time"

	"github.com/google/uuid"

	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

// FusionEngine merges the per-bar state of the three analyzers for one symbol
// into entry and failure signals. Evaluation is a pure function of the
// supplied snapshots plus the engine's own cooldown and lookback state, so an
// identical event sequence replays to an identical signal sequence.
type FusionEngine struct {
	symbol  string
	cfg     appconfig.SignalsConfig
	flowCfg appconfig.OrderFlowConfig
	log     *logger.Log

	lastEmitted map[models.SignalType]time.Time

	prevClose     float64
	havePrevClose bool

	// bars since the last close beyond VAL / VAH; -1 when none pending.
	valPierceAge int
	vahPierceAge int
}

func NewFusionEngine(symbol string, cfg appconfig.SignalsConfig, flowCfg appconfig.OrderFlowConfig) *FusionEngine {
	e := &FusionEngine{
		symbol:       symbol,
		cfg:          cfg,
		flowCfg:      flowCfg,
		log:          logger.GetLogger(),
		lastEmitted:  make(map[models.SignalType]time.Time),
		valPierceAge: -1,
		vahPierceAge: -1,
	}
	e.log.WithComponent("engine").WithFields(logger.Fields{
		"symbol":   symbol,
		"mode":     flowCfg.Mode,
		"cooldown": cfg.Cooldown.String(),
	}).Info("fusion engine initialized")
	return e
}

// requiredConfirmations is 4 in strict mode, the configured minimum otherwise.
func (e *FusionEngine) requiredConfirmations() int {
	if e.flowCfg.Strict() {
		return 4
	}
	return e.flowCfg.MinConfirmations
}

// flowConditions scores the four order-flow sub-conditions for one direction.
// Open interest growth confirms either direction; an unavailable change never
// confirms.
func (e *FusionEngine) flowConditions(flow models.FlowSnapshot, long bool) models.SignalConditions {
	var c models.SignalConditions
	if long {
		c.DeltaConfirmed = flow.Delta > 0
		c.CVDConfirmed = flow.CVD > 0
		c.StreakMet = flow.Delta > 0 && flow.Streak >= e.flowCfg.StreakThreshold
	} else {
		c.DeltaConfirmed = flow.Delta < 0
		c.CVDConfirmed = flow.CVD < 0
		c.StreakMet = flow.Delta < 0 && flow.Streak >= e.flowCfg.StreakThreshold
	}
	c.OIConfirmed = flow.OIChangeValid && flow.OIChangePct > 0
	c.DeltaFlip = flow.DeltaFlipped
	return c
}

func (e *FusionEngine) confidence(profileFired, vwapAligned bool, confirmations int) float64 {
	pf, va := 0.0, 0.0
	if profileFired {
		pf = 1
	}
	if vwapAligned {
		va = 1
	}
	w := e.cfg.Weights
	return w.Profile*pf + w.VWAP*va + w.Flow*float64(confirmations)/4
}

func (e *FusionEngine) cooldownElapsed(t models.SignalType, now time.Time) bool {
	last, ok := e.lastEmitted[t]
	return !ok || now.Sub(last) >= e.cfg.Cooldown
}

// OnFinalCandle evaluates the bar after all three analyzers have processed
// it. Failure patterns take precedence over entries; at most one signal is
// returned per bar. The candle's period end serves as the evaluation clock.
func (e *FusionEngine) OnFinalCandle(
	c models.Candle,
	profileEvent *models.ProfileEvent,
	profile models.ProfileSnapshot,
	vwap models.VWAPSnapshot,
	flow models.FlowSnapshot,
) *models.SignalEvent {
	now := c.PeriodEnd

	signal := e.evaluateFailure(c, profile, vwap, flow, now)
	if signal == nil {
		signal = e.evaluateEntry(c, profileEvent, profile, vwap, flow, now)
	}

	e.updatePierceState(c, profile)
	e.prevClose = c.Close
	e.havePrevClose = true

	if signal != nil {
		e.lastEmitted[signal.Type] = now
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"symbol":     e.symbol,
			"type":       signal.Type,
			"confidence": signal.Confidence,
			"price":      signal.Price,
		}).Info("signal emitted")
	}
	return signal
}

func (e *FusionEngine) evaluateEntry(
	c models.Candle,
	profileEvent *models.ProfileEvent,
	profile models.ProfileSnapshot,
	vwap models.VWAPSnapshot,
	flow models.FlowSnapshot,
	now time.Time,
) *models.SignalEvent {
	if profileEvent == nil {
		return nil
	}

	var sigType models.SignalType
	var aligned, pullback bool
	switch {
	case profileEvent.IsLong():
		sigType = models.SignalLongEntry
		aligned, pullback = vwap.AlignedUp, vwap.PullbackUp
	case profileEvent.IsShort():
		sigType = models.SignalShortEntry
		aligned, pullback = vwap.AlignedDn, vwap.PullbackDn
	default:
		return nil
	}
	if !aligned {
		return nil
	}

	conds := e.flowConditions(flow, sigType == models.SignalLongEntry)
	conds.ProfileEvent = *profileEvent
	conds.VWAPAligned = aligned
	conds.VWAPPullback = pullback

	confirmations := conds.FlowConfirmations()
	if confirmations < e.requiredConfirmations() {
		return nil
	}

	confidence := e.confidence(true, aligned, confirmations)
	if confidence < e.cfg.Thresholds.ForType(string(sigType)) {
		return nil
	}
	if !e.cooldownElapsed(sigType, now) {
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"symbol": e.symbol,
			"type":   sigType,
		}).Debug("candidate suppressed by cooldown")
		return nil
	}

	return e.build(sigType, c, confidence, conds, profile, vwap, flow, now)
}

// evaluateFailure detects a pierce beyond VAL or VAH followed by a close
// recrossing POC in the opposite direction within the lookback window. The
// trapped side's failure fires with the separate failure threshold.
func (e *FusionEngine) evaluateFailure(
	c models.Candle,
	profile models.ProfileSnapshot,
	vwap models.VWAPSnapshot,
	flow models.FlowSnapshot,
	now time.Time,
) *models.SignalEvent {
	if !e.havePrevClose {
		return nil
	}

	var sigType models.SignalType
	var aligned bool
	switch {
	case e.valPierceAge >= 0 && e.prevClose <= profile.POC && c.Close > profile.POC:
		// breakdown below VAL reversed, shorts trapped
		sigType = models.SignalShortFailure
		aligned = vwap.AlignedUp
	case e.vahPierceAge >= 0 && e.prevClose >= profile.POC && c.Close < profile.POC:
		// breakout above VAH reversed, longs trapped
		sigType = models.SignalLongFailure
		aligned = vwap.AlignedDn
	default:
		return nil
	}

	long := sigType == models.SignalShortFailure
	conds := e.flowConditions(flow, long)
	conds.VWAPAligned = aligned
	conds.POCRecross = true

	confidence := e.confidence(true, aligned, conds.FlowConfirmations())
	if confidence < e.cfg.Thresholds.Failure {
		return nil
	}
	if !e.cooldownElapsed(sigType, now) {
		return nil
	}

	e.valPierceAge = -1
	e.vahPierceAge = -1
	return e.build(sigType, c, confidence, conds, profile, vwap, flow, now)
}

// updatePierceState ages the pierce counters and arms them on a close beyond
// the value area, expiring them past the lookback window.
func (e *FusionEngine) updatePierceState(c models.Candle, profile models.ProfileSnapshot) {
	age := func(v int) int {
		if v < 0 {
			return v
		}
		if v+1 >= e.cfg.FailureLookbackBars {
			return -1
		}
		return v + 1
	}
	e.valPierceAge = age(e.valPierceAge)
	e.vahPierceAge = age(e.vahPierceAge)

	if c.Close < profile.VAL {
		e.valPierceAge = 0
	}
	if c.Close > profile.VAH {
		e.vahPierceAge = 0
	}
}

func (e *FusionEngine) build(
	t models.SignalType,
	c models.Candle,
	confidence float64,
	conds models.SignalConditions,
	profile models.ProfileSnapshot,
	vwap models.VWAPSnapshot,
	flow models.FlowSnapshot,
	now time.Time,
) *models.SignalEvent {
	if confidence > 1 {
		confidence = 1
	}
	return &models.SignalEvent{
		ID:         uuid.New().String(),
		Type:       t,
		Symbol:     e.symbol,
		Timestamp:  now,
		Price:      c.Close,
		Confidence: confidence,
		Conditions: conds,
		Context: models.SignalContext{
			VAH:           profile.VAH,
			POC:           profile.POC,
			VAL:           profile.VAL,
			VWAP:          vwap.Value,
			Delta:         flow.Delta,
			CVD:           flow.CVD,
			OIChangePct:   flow.OIChangePct,
			OIChangeValid: flow.OIChangeValid,
		},
	}
}
