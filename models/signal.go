package models

import (
	"fmt"
	"time"
)

// SignalType enumerates the signal events the fusion engine can emit.
type SignalType string

const (
	SignalLongEntry    SignalType = "LONG_ENTRY"
	SignalShortEntry   SignalType = "SHORT_ENTRY"
	SignalLongFailure  SignalType = "LONG_FAILURE"
	SignalShortFailure SignalType = "SHORT_FAILURE"
)

// IsFailure reports whether the type is a failure (trap reversal) pattern.
func (t SignalType) IsFailure() bool {
	return t == SignalLongFailure || t == SignalShortFailure
}

// SignalConditions records which named sub-conditions contributed to a signal.
type SignalConditions struct {
	ProfileEvent   ProfileEvent `json:"profile_event,omitempty"`
	VWAPAligned    bool         `json:"vwap_aligned"`
	VWAPPullback   bool         `json:"vwap_pullback"`
	DeltaConfirmed bool         `json:"delta_confirmed"`
	CVDConfirmed   bool         `json:"cvd_confirmed"`
	OIConfirmed    bool         `json:"oi_confirmed"`
	StreakMet      bool         `json:"streak_met"`
	DeltaFlip      bool         `json:"delta_flip"`
	POCRecross     bool         `json:"poc_recross"`
}

// FlowConfirmations counts the order-flow sub-conditions that held,
// out of the four the engine scores.
func (c SignalConditions) FlowConfirmations() int {
	n := 0
	for _, ok := range []bool{c.DeltaConfirmed, c.CVDConfirmed, c.OIConfirmed, c.StreakMet} {
		if ok {
			n++
		}
	}
	return n
}

// SignalContext is the snapshot of the three analyzers at emission time.
type SignalContext struct {
	VAH           float64 `json:"vah"`
	POC           float64 `json:"poc"`
	VAL           float64 `json:"val"`
	VWAP          float64 `json:"vwap"`
	Delta         float64 `json:"delta"`
	CVD           float64 `json:"cvd"`
	OIChangePct   float64 `json:"oi_change_pct"`
	OIChangeValid bool    `json:"oi_change_valid"`
}

// SignalEvent is an emitted, timestamped trading signal.
// Confidence is always within [0,1].
type SignalEvent struct {
	ID         string           `json:"id"`
	Type       SignalType       `json:"type"`
	Symbol     string           `json:"symbol"`
	Timestamp  time.Time        `json:"timestamp"`
	Price      float64          `json:"price"`
	Confidence float64          `json:"confidence"`
	Conditions SignalConditions `json:"conditions"`
	Context    SignalContext    `json:"context"`
}

// Summary renders a one-line human readable description for alert channels.
func (s SignalEvent) Summary() string {
	oi := "n/a"
	if s.Context.OIChangeValid {
		oi = fmt.Sprintf("%+.2f%%", s.Context.OIChangePct)
	}
	return fmt.Sprintf("%s %s @ %.2f conf=%.2f [VAH %.2f POC %.2f VAL %.2f VWAP %.2f delta %+.2f cvd %+.2f oi %s]",
		s.Symbol, s.Type, s.Price, s.Confidence,
		s.Context.VAH, s.Context.POC, s.Context.VAL, s.Context.VWAP,
		s.Context.Delta, s.Context.CVD, oi)
}

// Fingerprint identifies a signal for duplicate suppression in the alert sink.
func (s SignalEvent) Fingerprint() string {
	return fmt.Sprintf("%s|%s", s.Symbol, s.Type)
}

// AlertPriority buckets a signal for notification channels.
type AlertPriority string

const (
	PriorityLow    AlertPriority = "LOW"
	PriorityMedium AlertPriority = "MEDIUM"
	PriorityHigh   AlertPriority = "HIGH"
)

// Priority derives the alert priority from type and confidence. Failure
// patterns are lower-frequency, higher-conviction events and never rank
// below HIGH.
func (s SignalEvent) Priority() AlertPriority {
	if s.Type.IsFailure() || s.Confidence >= 0.85 {
		return PriorityHigh
	}
	if s.Confidence >= 0.7 {
		return PriorityMedium
	}
	return PriorityLow
}
