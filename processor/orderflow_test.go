package processor

import (
	"testing"
	"time"

	appconfig "tpoflow/config"
	"tpoflow/models"
)

func testFlowConfig() appconfig.OrderFlowConfig {
	return appconfig.OrderFlowConfig{
		Mode:             "lenient",
		MinConfirmations: 3,
		StreakThreshold:  3,
	}
}

func makeTrade(symbol string, side models.TradeSide, qty float64, ts time.Time) models.Trade {
	return models.Trade{Symbol: symbol, Price: 100, Quantity: qty, Side: side, Timestamp: ts}
}

func TestFlowBullishFromThirdBar(t *testing.T) {
	tr := NewFlowTracker("BTCUSDT", testFlowConfig())
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	prevCVD := 0.0
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * 15 * time.Minute)
		tr.OnTrade(makeTrade("BTCUSDT", models.TradeSideBuy, 8, ts))
		tr.OnTrade(makeTrade("BTCUSDT", models.TradeSideSell, 3, ts))

		snap := tr.OnFinalCandle(makeCandle("BTCUSDT", ts, 100, 101, 99, 100.5, 11))

		if snap.Delta != 5 {
			t.Errorf("bar %d delta = %v, want 5", i, snap.Delta)
		}
		if snap.CVD <= prevCVD {
			t.Errorf("bar %d CVD = %v, not strictly increasing from %v", i, snap.CVD, prevCVD)
		}
		prevCVD = snap.CVD

		wantTrend := models.FlowNeutral
		if i >= 2 {
			wantTrend = models.FlowBullish
		}
		if snap.Trend != wantTrend {
			t.Errorf("bar %d trend = %v, want %v", i, snap.Trend, wantTrend)
		}
		if snap.Streak != i+1 {
			t.Errorf("bar %d streak = %d, want %d", i, snap.Streak, i+1)
		}
	}
}

func TestFlowStreakResetOnFlip(t *testing.T) {
	tr := NewFlowTracker("BTCUSDT", testFlowConfig())
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * 15 * time.Minute)
		tr.OnTrade(makeTrade("BTCUSDT", models.TradeSideBuy, 5, ts))
		tr.OnFinalCandle(makeCandle("BTCUSDT", ts, 100, 101, 99, 100.5, 5))
	}

	ts := base.Add(45 * time.Minute)
	tr.OnTrade(makeTrade("BTCUSDT", models.TradeSideSell, 7, ts))
	snap := tr.OnFinalCandle(makeCandle("BTCUSDT", ts, 100.5, 100.5, 99, 99.2, 7))

	if snap.Delta != -7 {
		t.Errorf("delta = %v, want -7", snap.Delta)
	}
	if snap.Streak != 1 {
		t.Errorf("streak after flip = %d, want 1", snap.Streak)
	}
	if !snap.DeltaFlipped {
		t.Error("expected DeltaFlipped after sign change")
	}
	if snap.Trend != models.FlowNeutral {
		t.Errorf("trend = %v, want NEUTRAL", snap.Trend)
	}
}

func TestFlowDegradedEmptyBar(t *testing.T) {
	tr := NewFlowTracker("BTCUSDT", testFlowConfig())
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	snap := tr.OnFinalCandle(makeCandle("BTCUSDT", base, 100, 101, 99, 100, 0))
	if !snap.Degraded {
		t.Error("expected degraded flag on empty bar")
	}
	if snap.Delta != 0 {
		t.Errorf("delta = %v, want 0", snap.Delta)
	}
	if snap.Streak != 0 {
		t.Errorf("streak = %d, want 0", snap.Streak)
	}
}

func TestFlowOpenInterestChange(t *testing.T) {
	tr := NewFlowTracker("BTCUSDT", testFlowConfig())
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	tr.OnOpenInterest(models.OpenInterest{Symbol: "BTCUSDT", Value: 1000, Timestamp: base})
	snap := tr.OnFinalCandle(makeCandle("BTCUSDT", base, 100, 101, 99, 100, 0))
	if snap.OIChangeValid {
		t.Error("OI change should be unavailable with a single snapshot")
	}

	tr.OnOpenInterest(models.OpenInterest{Symbol: "BTCUSDT", Value: 1100, Timestamp: base.Add(time.Minute)})
	snap = tr.OnFinalCandle(makeCandle("BTCUSDT", base.Add(15*time.Minute), 100, 101, 99, 100, 0))
	if !snap.OIChangeValid {
		t.Fatal("OI change should be available after two snapshots")
	}
	if !almostEqual(snap.OIChangePct, 10, 1e-9) {
		t.Errorf("OI change = %v%%, want 10%%", snap.OIChangePct)
	}
}
