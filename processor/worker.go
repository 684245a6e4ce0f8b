package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "tpoflow/config"
	"tpoflow/internal/channel"
	"tpoflow/logger"
	"tpoflow/models"
)

// pipeline bundles the per-symbol analyzer set. Each pipeline is owned by
// exactly one worker goroutine; nothing else mutates its state.
type pipeline struct {
	profile *ProfileBuilder
	vwap    *VWAPTracker
	flow    *FlowTracker
	engine  *FusionEngine
}

// Manager owns a pipeline and a worker goroutine per configured symbol,
// consuming that symbol's event queue and forwarding emitted signals.
type Manager struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	pipelines map[string]*pipeline

	// Metrics counters, accessed atomically
	tradesProcessed  int64
	candlesProcessed int64
	oiProcessed      int64
	signalsEmitted   int64
	signalsDropped   int64
}

func NewManager(cfg *appconfig.Config, ch *channel.Channels) *Manager {
	return &Manager{
		config:    cfg,
		channels:  ch,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		pipelines: make(map[string]*pipeline),
	}
}

func (m *Manager) pipelineFor(symbol string) *pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[symbol]
	if !ok {
		p = &pipeline{
			profile: NewProfileBuilder(symbol, m.config.Profile),
			vwap:    NewVWAPTracker(symbol, m.config.VWAP),
			flow:    NewFlowTracker(symbol, m.config.OrderFlow),
			engine:  NewFusionEngine(symbol, m.config.Signals, m.config.OrderFlow),
		}
		m.pipelines[symbol] = p
	}
	return p
}

// Warmup seeds a symbol's analyzers from historical finalized candles. The
// fusion engine is not consulted, so warmup never emits signals.
func (m *Manager) Warmup(symbol string, candles []models.Candle) {
	p := m.pipelineFor(symbol)

	seeded := 0
	for _, c := range candles {
		if !c.IsFinal {
			continue
		}
		p.profile.OnFinalCandle(c)
		p.vwap.OnFinalCandle(c)
		p.flow.OnFinalCandle(c)
		seeded++
	}

	m.log.WithComponent("manager").WithFields(logger.Fields{
		"symbol":  symbol,
		"candles": seeded,
	}).Info("symbol warmed up")
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager already running")
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	log := m.log.WithComponent("manager").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"symbols": m.config.Symbols}).Info("starting symbol workers")

	for _, symbol := range m.config.Symbols {
		m.pipelineFor(symbol)
		m.wg.Add(1)
		go m.worker(symbol)
	}

	go m.metricsReporter(ctx)

	log.Info("manager started successfully")
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.log.WithComponent("manager").Info("stopping manager")
	m.wg.Wait()
	m.log.WithComponent("manager").Info("manager stopped")
}

func (m *Manager) worker(symbol string) {
	defer m.wg.Done()

	log := m.log.WithComponent("manager").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "pipeline",
	})
	log.Info("starting symbol worker")

	events := m.channels.Events(symbol)
	p := m.pipelineFor(symbol)

	for {
		select {
		case <-m.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case ev, ok := <-events:
			if !ok {
				log.Info("event channel closed, worker stopping")
				return
			}
			m.handleEvent(p, ev, log)
		}
	}
}

func (m *Manager) handleEvent(p *pipeline, ev models.MarketEvent, log *logger.Entry) {
	switch ev.Type {
	case models.EventTrade:
		if ev.Trade == nil {
			log.Warn("trade event without payload ignored")
			return
		}
		p.flow.OnTrade(*ev.Trade)
		atomic.AddInt64(&m.tradesProcessed, 1)

	case models.EventOpenInterest:
		if ev.OpenInterest == nil {
			log.Warn("open interest event without payload ignored")
			return
		}
		p.flow.OnOpenInterest(*ev.OpenInterest)
		atomic.AddInt64(&m.oiProcessed, 1)

	case models.EventCandle:
		if ev.Candle == nil {
			log.Warn("candle event without payload ignored")
			return
		}
		if !ev.Candle.IsFinal {
			return
		}
		m.onFinalCandle(p, *ev.Candle, log)

	default:
		log.WithFields(logger.Fields{"type": ev.Type}).Warn("unknown event type ignored")
	}
}

// onFinalCandle runs the bar through the three analyzers, then the fusion
// engine over their fresh snapshots.
func (m *Manager) onFinalCandle(p *pipeline, c models.Candle, log *logger.Entry) {
	start := time.Now()

	profileEvent := p.profile.OnFinalCandle(c)
	profileSnap, _ := p.profile.Snapshot()
	vwapSnap := p.vwap.OnFinalCandle(c)
	flowSnap := p.flow.OnFinalCandle(c)

	atomic.AddInt64(&m.candlesProcessed, 1)

	signal := p.engine.OnFinalCandle(c, profileEvent, profileSnap, vwapSnap, flowSnap)
	if signal != nil {
		if m.channels.SendSignal(m.ctx, *signal) {
			atomic.AddInt64(&m.signalsEmitted, 1)
		} else {
			atomic.AddInt64(&m.signalsDropped, 1)
		}
	}

	logger.LogDataFlowEntry(log, "event_queue", "signal_queue", 1, "finalized_candle")
	log.WithFields(logger.Fields{
		"period_end":  c.PeriodEnd,
		"close":       c.Close,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("finalized candle processed")
}

// Snapshot exposes a symbol's current analyzer state for inspection.
func (m *Manager) Snapshot(symbol string) (models.ProfileSnapshot, bool) {
	m.mu.RLock()
	p, ok := m.pipelines[symbol]
	m.mu.RUnlock()
	if !ok {
		return models.ProfileSnapshot{}, false
	}
	return p.profile.Snapshot()
}

func (m *Manager) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reportMetrics()
		}
	}
}

func (m *Manager) reportMetrics() {
	trades := atomic.LoadInt64(&m.tradesProcessed)
	candles := atomic.LoadInt64(&m.candlesProcessed)
	oi := atomic.LoadInt64(&m.oiProcessed)
	emitted := atomic.LoadInt64(&m.signalsEmitted)
	dropped := atomic.LoadInt64(&m.signalsDropped)

	m.mu.RLock()
	pipelines := len(m.pipelines)
	m.mu.RUnlock()

	m.log.LogMetric("manager", "trades_processed", trades, "counter", logger.Fields{})
	m.log.LogMetric("manager", "candles_processed", candles, "counter", logger.Fields{})
	m.log.LogMetric("manager", "oi_processed", oi, "counter", logger.Fields{})
	m.log.LogMetric("manager", "signals_emitted", emitted, "counter", logger.Fields{})
	m.log.LogMetric("manager", "signals_dropped", dropped, "counter", logger.Fields{})
	m.log.LogMetric("manager", "active_pipelines", pipelines, "gauge", logger.Fields{})

	m.log.WithComponent("manager").WithFields(logger.Fields{
		"trades_processed":  trades,
		"candles_processed": candles,
		"oi_processed":      oi,
		"signals_emitted":   emitted,
		"signals_dropped":   dropped,
		"active_pipelines":  pipelines,
	}).Info("manager metrics")
}
