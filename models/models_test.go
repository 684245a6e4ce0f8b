package models

import (
	"strings"
	"testing"
	"time"
)

func TestProfileEventSides(t *testing.T) {
	longs := []ProfileEvent{ProfileValBounce, ProfilePocReclaim, ProfileVahBreakout}
	shorts := []ProfileEvent{ProfileVahRejection, ProfilePocBreakdown, ProfileValBreak}
	for _, e := range longs {
		if !e.IsLong() || e.IsShort() {
			t.Fatalf("%s should be long-side only", e)
		}
	}
	for _, e := range shorts {
		if !e.IsShort() || e.IsLong() {
			t.Fatalf("%s should be short-side only", e)
		}
	}
}

func TestFlowConfirmations(t *testing.T) {
	c := SignalConditions{DeltaConfirmed: true, OIConfirmed: true}
	if got := c.FlowConfirmations(); got != 2 {
		t.Fatalf("expected 2 confirmations, got %d", got)
	}
	c.CVDConfirmed = true
	c.StreakMet = true
	if got := c.FlowConfirmations(); got != 4 {
		t.Fatalf("expected 4 confirmations, got %d", got)
	}
}

func TestSignalPriority(t *testing.T) {
	cases := []struct {
		typ  SignalType
		conf float64
		want AlertPriority
	}{
		{SignalLongEntry, 0.9, PriorityHigh},
		{SignalLongEntry, 0.75, PriorityMedium},
		{SignalShortEntry, 0.5, PriorityLow},
		{SignalLongFailure, 0.5, PriorityHigh},
	}
	for _, tc := range cases {
		s := SignalEvent{Type: tc.typ, Confidence: tc.conf}
		if got := s.Priority(); got != tc.want {
			t.Fatalf("%s conf=%.2f: expected %s, got %s", tc.typ, tc.conf, tc.want, got)
		}
	}
}

func TestSignalSummaryUnavailableOI(t *testing.T) {
	s := SignalEvent{
		Type: SignalLongEntry, Symbol: "BTCUSDT", Timestamp: time.Unix(0, 0),
		Price: 100, Confidence: 0.8,
	}
	if sum := s.Summary(); !strings.Contains(sum, "oi n/a") {
		t.Fatalf("expected unavailable OI in summary, got %q", sum)
	}
	s.Context.OIChangeValid = true
	s.Context.OIChangePct = 1.5
	if sum := s.Summary(); !strings.Contains(sum, "+1.50%") {
		t.Fatalf("expected OI percent in summary, got %q", sum)
	}
}

func TestTypicalPrice(t *testing.T) {
	c := Candle{High: 110, Low: 90, Close: 100}
	if tp := c.TypicalPrice(); tp != 100 {
		t.Fatalf("expected typical price 100, got %f", tp)
	}
}
