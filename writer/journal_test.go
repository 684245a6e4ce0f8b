package writer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appconfig "tpoflow/config"
	"tpoflow/models"
)

func testJournalConfig(dir string) *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Journal = appconfig.JournalConfig{
		Enabled:       true,
		Dir:           dir,
		FlushInterval: 50 * time.Millisecond,
	}
	return cfg
}

func TestBuildParquet(t *testing.T) {
	signals := []models.SignalEvent{
		testSignal("BTCUSDT", models.SignalLongEntry),
		testSignal("ETHUSDT", models.SignalShortEntry),
	}
	data, err := buildParquet(signals)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("parquet output is empty")
	}
	// parquet files start and end with the PAR1 magic
	if !strings.HasPrefix(string(data), "PAR1") || !strings.HasSuffix(string(data), "PAR1") {
		t.Error("missing parquet magic bytes")
	}
}

func TestJournalFlushWritesFile(t *testing.T) {
	dir := t.TempDir()
	signals := make(chan models.SignalEvent, 4)

	j, err := NewJournal(testJournalConfig(dir), signals)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := j.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	signals <- testSignal("BTCUSDT", models.SignalLongEntry)

	deadline := time.After(2 * time.Second)
	for {
		files, _ := filepath.Glob(filepath.Join(dir, "signals_*.parquet"))
		if len(files) > 0 {
			info, err := os.Stat(files[0])
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Size() == 0 {
				t.Error("journal file is empty")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no journal file written within timeout")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	j.Stop()
}

func TestJournalEmptyFlushNoFile(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(testJournalConfig(dir), make(chan models.SignalEvent))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	j.flush("test")

	files, _ := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if len(files) != 0 {
		t.Errorf("empty flush wrote %d files", len(files))
	}
}
