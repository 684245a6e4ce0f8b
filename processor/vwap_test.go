package processor

import (
	"math"
	"testing"
	"time"

	appconfig "tpoflow/config"
)

func testVWAPConfig() appconfig.VWAPConfig {
	return appconfig.VWAPConfig{
		AnchorPeriod:             24 * time.Hour,
		PullbackTolerancePercent: 0.2,
		PullbackWindowBars:       3,
		SlopeLookbackBars:        5,
	}
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestVWAPValueAndBands(t *testing.T) {
	tr := NewVWAPTracker("BTCUSDT", testVWAPConfig())
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	// Typical prices 100 and 110 with volumes 10 and 30.
	tr.OnFinalCandle(makeCandle("BTCUSDT", base, 100, 102, 98, 100, 10))
	snap := tr.OnFinalCandle(makeCandle("BTCUSDT", base.Add(15*time.Minute), 100, 112, 108, 110, 30))

	if !almostEqual(snap.Value, 107.5, 1e-9) {
		t.Errorf("VWAP = %v, want 107.5", snap.Value)
	}
	wantStd := math.Sqrt(18.75)
	if !almostEqual(snap.Upper1Std, 107.5+wantStd, 1e-9) {
		t.Errorf("Upper1Std = %v, want %v", snap.Upper1Std, 107.5+wantStd)
	}
	if !almostEqual(snap.Lower2Std, 107.5-2*wantStd, 1e-9) {
		t.Errorf("Lower2Std = %v, want %v", snap.Lower2Std, 107.5-2*wantStd)
	}
}

func TestVWAPAnchorReset(t *testing.T) {
	tr := NewVWAPTracker("BTCUSDT", testVWAPConfig())
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	tr.OnFinalCandle(makeCandle("BTCUSDT", base, 100, 102, 98, 100, 10))
	snap := tr.OnFinalCandle(makeCandle("BTCUSDT", base.Add(24*time.Hour), 200, 202, 198, 200, 5))

	if !almostEqual(snap.Value, 200, 1e-9) {
		t.Errorf("VWAP after anchor reset = %v, want 200", snap.Value)
	}
	if !snap.AnchorTime.Equal(base.Add(24 * time.Hour)) {
		t.Errorf("anchor = %v, want %v", snap.AnchorTime, base.Add(24*time.Hour))
	}
}

func TestVWAPAlignment(t *testing.T) {
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	up := NewVWAPTracker("BTCUSDT", testVWAPConfig())
	up.OnFinalCandle(makeCandle("BTCUSDT", base, 100, 102, 98, 100, 10))
	snap := up.OnFinalCandle(makeCandle("BTCUSDT", base.Add(15*time.Minute), 100, 112, 108, 110, 30))
	if !snap.AlignedUp || snap.AlignedDn {
		t.Errorf("rising close: AlignedUp=%v AlignedDn=%v, want true/false", snap.AlignedUp, snap.AlignedDn)
	}

	dn := NewVWAPTracker("BTCUSDT", testVWAPConfig())
	dn.OnFinalCandle(makeCandle("BTCUSDT", base, 100, 102, 98, 100, 10))
	snap = dn.OnFinalCandle(makeCandle("BTCUSDT", base.Add(15*time.Minute), 100, 92, 88, 90, 30))
	if !snap.AlignedDn || snap.AlignedUp {
		t.Errorf("falling close: AlignedUp=%v AlignedDn=%v, want false/true", snap.AlignedUp, snap.AlignedDn)
	}
}

func TestVWAPSlope(t *testing.T) {
	tr := NewVWAPTracker("BTCUSDT", testVWAPConfig())
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		p := 100 + float64(i)*10
		snap := tr.OnFinalCandle(makeCandle("BTCUSDT", base.Add(time.Duration(i)*15*time.Minute), p, p+2, p-2, p, 10))
		if i == 0 && snap.Slope != 0 {
			t.Errorf("single-point slope = %v, want 0", snap.Slope)
		}
		if i == 4 && snap.Slope <= 0 {
			t.Errorf("slope over rising series = %v, want > 0", snap.Slope)
		}
	}
}
