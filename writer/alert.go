package writer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

// Sink delivers one formatted alert line to a notification channel. Delivery
// failures are the sink's problem; the manager logs and moves on.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string, priority models.AlertPriority) error
}

// AlertManager consumes emitted signals, applies duplicate and rate
// throttling and fans each surviving alert out to the configured sinks.
type AlertManager struct {
	config  *appconfig.Config
	signals <-chan models.SignalEvent
	sinks   []Sink
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	lastSent  map[string]time.Time
	hourStart time.Time
	hourCount int

	alertsDelivered int64
	alertsThrottled int64
	deliveryErrors  int64
}

func NewAlertManager(cfg *appconfig.Config, signals <-chan models.SignalEvent) *AlertManager {
	m := &AlertManager{
		config:   cfg,
		signals:  signals,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		lastSent: make(map[string]time.Time),
	}

	if cfg.Alerts.Console {
		m.sinks = append(m.sinks, newConsoleSink(os.Stdout))
	}
	if cfg.Alerts.File.Enabled {
		m.sinks = append(m.sinks, newFileSink(cfg.Alerts.File))
	}
	if cfg.Alerts.Telegram.Enabled {
		m.sinks = append(m.sinks, newTelegramSink(cfg.Alerts.Telegram))
	}

	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	m.log.WithComponent("alert_manager").WithFields(logger.Fields{
		"sinks":    names,
		"throttle": cfg.Alerts.Throttle.Enabled,
	}).Info("alert manager initialized")

	return m
}

func (m *AlertManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("alert manager already running")
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	log := m.log.WithComponent("alert_manager").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting alert manager")

	m.wg.Add(1)
	go m.worker()

	go m.metricsReporter(ctx)

	log.Info("alert manager started successfully")
	return nil
}

func (m *AlertManager) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.log.WithComponent("alert_manager").Info("stopping alert manager")
	m.wg.Wait()
	m.log.WithComponent("alert_manager").Info("alert manager stopped")
}

func (m *AlertManager) worker() {
	defer m.wg.Done()

	log := m.log.WithComponent("alert_manager").WithFields(logger.Fields{"worker": "alert"})
	log.Info("starting alert worker")

	for {
		select {
		case <-m.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case sig, ok := <-m.signals:
			if !ok {
				log.Info("signal channel closed, worker stopping")
				return
			}
			m.handleSignal(sig, log)
		}
	}
}

func (m *AlertManager) handleSignal(sig models.SignalEvent, log *logger.Entry) {
	if !m.allow(sig, time.Now()) {
		atomic.AddInt64(&m.alertsThrottled, 1)
		log.WithFields(logger.Fields{
			"symbol": sig.Symbol,
			"type":   sig.Type,
		}).Debug("alert throttled")
		return
	}

	m.deliver(sig.Summary(), sig.Priority(), log)
	atomic.AddInt64(&m.alertsDelivered, 1)
}

// Notice sends a free-text system notice (startup, shutdown) to every sink,
// bypassing throttling.
func (m *AlertManager) Notice(ctx context.Context, text string) {
	log := m.log.WithComponent("alert_manager")
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, text, models.PriorityLow); err != nil {
			log.WithError(err).WithFields(logger.Fields{"sink": sink.Name()}).Warn("notice delivery failed")
		}
	}
}

// allow applies the duplicate window and the hourly cap. Time is passed in
// so the policy is testable.
func (m *AlertManager) allow(sig models.SignalEvent, now time.Time) bool {
	if !m.config.Alerts.Throttle.Enabled {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fp := sig.Fingerprint()
	if last, ok := m.lastSent[fp]; ok && now.Sub(last) < m.config.Alerts.Throttle.DuplicateWindow {
		return false
	}

	if now.Sub(m.hourStart) >= time.Hour {
		m.hourStart = now
		m.hourCount = 0
	}
	if max := m.config.Alerts.Throttle.MaxPerHour; max > 0 && m.hourCount >= max {
		return false
	}

	m.lastSent[fp] = now
	m.hourCount++
	return true
}

func (m *AlertManager) deliver(text string, priority models.AlertPriority, log *logger.Entry) {
	for _, sink := range m.sinks {
		start := time.Now()
		if err := sink.Send(m.ctx, text, priority); err != nil {
			atomic.AddInt64(&m.deliveryErrors, 1)
			log.WithError(err).WithFields(logger.Fields{"sink": sink.Name()}).Warn("alert delivery failed")
			continue
		}
		logger.LogPerformanceEntry(log, "alert_manager", "deliver_"+sink.Name(), time.Since(start), nil)
	}
}

func (m *AlertManager) metricsReporter(ctx context.Context) {
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

func (m *AlertManager) reportMetrics() {
	delivered := atomic.LoadInt64(&m.alertsDelivered)
	throttled := atomic.LoadInt64(&m.alertsThrottled)
	errors := atomic.LoadInt64(&m.deliveryErrors)

	m.log.LogMetric("alert_manager", "alerts_delivered", delivered, "counter", logger.Fields{})
	m.log.LogMetric("alert_manager", "alerts_throttled", throttled, "counter", logger.Fields{})
	m.log.LogMetric("alert_manager", "delivery_errors", errors, "counter", logger.Fields{})

	m.log.WithComponent("alert_manager").WithFields(logger.Fields{
		"alerts_delivered": delivered,
		"alerts_throttled": throttled,
		"delivery_errors":  errors,
	}).Info("alert manager metrics")
}

// consoleSink writes alerts to a terminal stream.
type consoleSink struct {
	out io.Writer
	mu  sync.Mutex
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

func (s *consoleSink) Name() string { return "console" }

func (s *consoleSink) Send(_ context.Context, text string, priority models.AlertPriority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "[%s] %s %s\n", time.Now().UTC().Format(time.RFC3339), priority, text)
	return err
}

// fileSink appends alerts to a rotating log file.
type fileSink struct {
	out *lumberjack.Logger
	mu  sync.Mutex
}

func newFileSink(cfg appconfig.FileAlertConfig) *fileSink {
	return &fileSink{
		out: &lumberjack.Logger{
			Filename: cfg.Path,
			MaxAge:   cfg.MaxAge,
			Compress: true,
		},
	}
}

func (s *fileSink) Name() string { return "file" }

func (s *fileSink) Send(_ context.Context, text string, priority models.AlertPriority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "[%s] %s %s\n", time.Now().UTC().Format(time.RFC3339), priority, text)
	return err
}
