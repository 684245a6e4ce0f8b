package writer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "tpoflow/config"
	"tpoflow/models"
)

type fakeSink struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(_ context.Context, text string, _ models.AlertPriority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, text)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testAlertConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Alerts = appconfig.AlertsConfig{
		Enabled: true,
		Throttle: appconfig.ThrottleConfig{
			Enabled:         true,
			DuplicateWindow: time.Hour,
			MaxPerHour:      10,
		},
	}
	return cfg
}

func testSignal(symbol string, sigType models.SignalType) models.SignalEvent {
	return models.SignalEvent{
		ID:         "test",
		Type:       sigType,
		Symbol:     symbol,
		Timestamp:  time.Date(2025, 1, 2, 0, 15, 0, 0, time.UTC),
		Price:      103.8,
		Confidence: 0.875,
		Context:    models.SignalContext{VAH: 103, POC: 102, VAL: 101, VWAP: 102.1},
	}
}

func TestThrottleDuplicateWindow(t *testing.T) {
	m := NewAlertManager(testAlertConfig(), nil)
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	sig := testSignal("BTCUSDT", models.SignalLongEntry)

	if !m.allow(sig, now) {
		t.Fatal("first alert should pass")
	}
	if m.allow(sig, now.Add(30*time.Minute)) {
		t.Error("duplicate within window should be throttled")
	}
	if !m.allow(testSignal("BTCUSDT", models.SignalShortEntry), now.Add(time.Minute)) {
		t.Error("different signal type should pass")
	}
	if !m.allow(testSignal("ETHUSDT", models.SignalLongEntry), now.Add(time.Minute)) {
		t.Error("different symbol should pass")
	}
	if !m.allow(sig, now.Add(2*time.Hour)) {
		t.Error("duplicate past window should pass")
	}
}

func TestThrottleHourlyCap(t *testing.T) {
	cfg := testAlertConfig()
	cfg.Alerts.Throttle.MaxPerHour = 2
	cfg.Alerts.Throttle.DuplicateWindow = time.Millisecond
	m := NewAlertManager(cfg, nil)
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

	symbols := []string{"A", "B", "C"}
	allowed := 0
	for i, s := range symbols {
		if m.allow(testSignal(s, models.SignalLongEntry), now.Add(time.Duration(i)*time.Minute)) {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d alerts, want 2", allowed)
	}

	// the cap resets on the next hour
	if !m.allow(testSignal("D", models.SignalLongEntry), now.Add(2*time.Hour)) {
		t.Error("alert after hour rollover should pass")
	}
}

func TestThrottleDisabled(t *testing.T) {
	cfg := testAlertConfig()
	cfg.Alerts.Throttle.Enabled = false
	m := NewAlertManager(cfg, nil)
	now := time.Now()
	sig := testSignal("BTCUSDT", models.SignalLongEntry)

	for i := 0; i < 5; i++ {
		if !m.allow(sig, now) {
			t.Fatal("disabled throttle must pass everything")
		}
	}
}

func TestAlertDeliveryFanOut(t *testing.T) {
	signals := make(chan models.SignalEvent, 4)
	m := NewAlertManager(testAlertConfig(), signals)
	sink := &fakeSink{}
	m.sinks = []Sink{sink}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	signals <- testSignal("BTCUSDT", models.SignalLongEntry)

	deadline := time.After(2 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("alert not delivered within timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sink.mu.Lock()
	text := sink.sends[0]
	sink.mu.Unlock()
	if !strings.Contains(text, "BTCUSDT") || !strings.Contains(text, "LONG_ENTRY") {
		t.Errorf("alert text = %q, want symbol and type present", text)
	}

	cancel()
	m.Stop()
}

func TestConsoleSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	s := newConsoleSink(&buf)

	if err := s.Send(context.Background(), "system online", models.PriorityLow); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "system online") || !strings.Contains(out, "LOW") {
		t.Errorf("console output = %q", out)
	}
}

func TestNoticeBypassesThrottle(t *testing.T) {
	cfg := testAlertConfig()
	cfg.Alerts.Throttle.MaxPerHour = 0
	m := NewAlertManager(cfg, nil)
	sink := &fakeSink{}
	m.sinks = []Sink{sink}

	for i := 0; i < 3; i++ {
		m.Notice(context.Background(), "shutting down")
	}
	if sink.count() != 3 {
		t.Errorf("notices delivered = %d, want 3", sink.count())
	}
}
