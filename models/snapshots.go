package models

import (
	"time"
)

// ProfileEvent is a structural interaction with the current session profile,
// evaluated after each finalized candle.
type ProfileEvent string

const (
	ProfileValBounce    ProfileEvent = "VAL_BOUNCE"
	ProfileValBreak     ProfileEvent = "VAL_BREAK"
	ProfileVahBreakout  ProfileEvent = "VAH_BREAKOUT"
	ProfileVahRejection ProfileEvent = "VAH_REJECTION"
	ProfilePocReclaim   ProfileEvent = "POC_RECLAIM"
	ProfilePocBreakdown ProfileEvent = "POC_BREAKDOWN"
)

// IsLong reports whether the event qualifies the long side of an entry.
func (e ProfileEvent) IsLong() bool {
	switch e {
	case ProfileValBounce, ProfilePocReclaim, ProfileVahBreakout:
		return true
	}
	return false
}

// IsShort reports whether the event qualifies the short side of an entry.
func (e ProfileEvent) IsShort() bool {
	switch e {
	case ProfileVahRejection, ProfilePocBreakdown, ProfileValBreak:
		return true
	}
	return false
}

// PriceLevel is one quantized price row of a session profile.
type PriceLevel struct {
	Price    float64 `json:"price"`
	TPOCount int     `json:"tpo_count"`
	Volume   float64 `json:"volume"`
}

// ProfileSnapshot carries the profile state for one session at one bar.
// Invariant: VAH >= POC >= VAL whenever the session holds at least one level.
type ProfileSnapshot struct {
	SessionStart time.Time `json:"session_start"`
	SessionEnd   time.Time `json:"session_end"`
	POC          float64   `json:"poc"`
	VAH          float64   `json:"vah"`
	VAL          float64   `json:"val"`
	TotalTPO     int       `json:"total_tpo"`
	TotalVolume  float64   `json:"total_volume"`
	LevelCount   int       `json:"level_count"`
}

// InValueArea reports whether price sits inside [VAL, VAH].
func (p ProfileSnapshot) InValueArea(price float64) bool {
	return price >= p.VAL && price <= p.VAH
}

// VWAPSnapshot carries the anchored VWAP state at one bar, with standard
// deviation bands derived from the running Σp²v sum.
type VWAPSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	Upper1Std  float64   `json:"upper_1std"`
	Lower1Std  float64   `json:"lower_1std"`
	Upper2Std  float64   `json:"upper_2std"`
	Lower2Std  float64   `json:"lower_2std"`
	Slope      float64   `json:"slope"`
	AlignedUp  bool      `json:"aligned_up"`
	AlignedDn  bool      `json:"aligned_down"`
	PullbackUp bool      `json:"pullback_up"`
	PullbackDn bool      `json:"pullback_down"`
	AnchorTime time.Time `json:"anchor_time"`
}

// FlowDirection classifies the order-flow trend.
type FlowDirection string

const (
	FlowBullish FlowDirection = "BULLISH"
	FlowBearish FlowDirection = "BEARISH"
	FlowNeutral FlowDirection = "NEUTRAL"
)

// FlowSnapshot carries order-flow state at bar finalization.
// OIChangeValid is false until two open-interest snapshots exist; consumers
// must treat the change as unavailable rather than zero while it is false.
type FlowSnapshot struct {
	Timestamp     time.Time     `json:"timestamp"`
	Delta         float64       `json:"delta"`
	CVD           float64       `json:"cvd"`
	BuyVolume     float64       `json:"buy_volume"`
	SellVolume    float64       `json:"sell_volume"`
	Streak        int           `json:"streak"`
	Trend         FlowDirection `json:"trend"`
	OI            float64       `json:"oi"`
	OIChangePct   float64       `json:"oi_change_pct"`
	OIChangeValid bool          `json:"oi_change_valid"`
	DeltaFlipped  bool          `json:"delta_flipped"`
	Degraded      bool          `json:"degraded"`
}
