package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "tpoflow/config"
	"tpoflow/internal/channel"
	"tpoflow/logger"
	"tpoflow/models"
	"tpoflow/processor"
	"tpoflow/reader/binance"
	"tpoflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.TPOFlow.Name,
		"version": cfg.TPOFlow.Version,
		"symbols": cfg.Symbols,
	}).Info("starting tpoflow")

	if cfg.Metrics.CloudWatchEnabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channels := channel.NewChannels(cfg.Symbols, cfg.Channels.EventBuffer, cfg.Channels.SignalBuffer)
	channels.StartMetricsReporting(ctx)

	restClient := binance.NewClient(cfg)
	manager := processor.NewManager(cfg, channels)

	// seed analyzer state before going live so the first signals evaluate
	// against a realistic profile rather than cold-zero state
	for _, symbol := range cfg.Symbols {
		candles, err := restClient.FetchWarmupCandles(ctx, symbol)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("warmup failed, starting cold")
			continue
		}
		manager.Warmup(symbol, candles)
	}

	feed := binance.NewFeed(cfg, channels)
	oiPoller := binance.NewOIPoller(cfg, restClient, channels)

	alertSignals := (<-chan models.SignalEvent)(channels.Signals)
	var journal *writer.Journal
	if cfg.Journal.Enabled {
		alertCh := make(chan models.SignalEvent, cfg.Channels.SignalBuffer)
		journalCh := make(chan models.SignalEvent, cfg.Channels.SignalBuffer)
		go teeSignals(ctx, channels.Signals, alertCh, journalCh)
		alertSignals = alertCh

		journal, err = writer.NewJournal(cfg, journalCh)
		if err != nil {
			log.WithError(err).Error("failed to create signal journal")
			os.Exit(1)
		}
	}

	var alerts *writer.AlertManager
	if cfg.Alerts.Enabled {
		alerts = writer.NewAlertManager(cfg, alertSignals)
	} else {
		log.WithComponent("main").Info("alerts disabled; emitted signals are only logged")
	}

	var wg sync.WaitGroup

	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.WithError(err).WithFields(logger.Fields{"component": name}).Warn("component failed to start")
			}
		}()
	}

	start("manager", manager.Start)
	start("binance_feed", feed.Start)
	start("oi_poller", oiPoller.Start)
	if alerts != nil {
		start("alert_manager", alerts.Start)
	}
	if journal != nil {
		start("journal", journal.Start)
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	if alerts != nil {
		alerts.Notice(ctx, fmt.Sprintf("%s %s online, watching %d symbols",
			cfg.TPOFlow.Name, cfg.TPOFlow.Version, len(cfg.Symbols)))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	if alerts != nil {
		alerts.Notice(ctx, cfg.TPOFlow.Name+" shutting down")
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping binance feed")
	feed.Stop()

	log.Info("stopping oi poller")
	oiPoller.Stop()

	log.Info("stopping manager")
	manager.Stop()

	if journal != nil {
		log.Info("stopping journal")
		journal.Stop()
	}
	if alerts != nil {
		log.Info("stopping alert manager")
		alerts.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("tpoflow stopped")
}

// teeSignals duplicates emitted signals to the alert and journal consumers.
// Either side being full drops its copy rather than stalling the other.
func teeSignals(ctx context.Context, in <-chan models.SignalEvent, outs ...chan models.SignalEvent) {
	defer func() {
		for _, out := range outs {
			close(out)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-in:
			if !ok {
				return
			}
			for _, out := range outs {
				select {
				case out <- sig:
				default:
				}
			}
		}
	}
}
