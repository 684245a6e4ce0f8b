package binance

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

// OIPoller fetches open interest for each symbol on a fixed interval,
// out-of-band from the candle cadence, and forwards it onto the symbol's
// event queue.
type OIPoller struct {
	config   *appconfig.Config
	client   *Client
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics counters, accessed atomically
	snapshotsFetched int64
	errorsCount      int64
}

func NewOIPoller(cfg *appconfig.Config, client *Client, ch *channel.Channels) *OIPoller {
	return &OIPoller{
		config:   cfg,
		client:   client,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (p *OIPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("oi poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("oi_poller").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"symbols":  p.config.Symbols,
		"interval": p.config.Feed.OIPollInterval.String(),
	}).Info("starting oi poller")

	for _, symbol := range p.config.Symbols {
		p.wg.Add(1)
		go p.pollSymbol(symbol)
	}

	log.Info("oi poller started successfully")
	return nil
}

func (p *OIPoller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("oi_poller").Info("stopping oi poller")
	p.wg.Wait()
	p.log.WithComponent("oi_poller").Info("oi poller stopped")
}

func (p *OIPoller) pollSymbol(symbol string) {
	defer p.wg.Done()

	log := p.log.WithComponent("oi_poller").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "oi_poll",
	})
	log.Info("starting oi poll worker")

	ticker := time.NewTicker(p.config.Feed.OIPollInterval)
	defer ticker.Stop()

	// prime immediately so the percent change becomes available after the
	// first interval rather than the second
	p.fetchOnce(symbol, log)

	for {
		select {
		case <-p.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			p.fetchOnce(symbol, log)
		}
	}
}

func (p *OIPoller) fetchOnce(symbol string, log *logger.Entry) {
	start := time.Now()
	oi, err := p.client.FetchOpenInterest(p.ctx, symbol)
	if err != nil {
		atomic.AddInt64(&p.errorsCount, 1)
		if p.ctx.Err() == nil {
			log.WithError(err).Warn("failed to fetch open interest")
		}
		return
	}
	logger.LogPerformanceEntry(log, "oi_poller", "fetch_open_interest", time.Since(start), nil)

	atomic.AddInt64(&p.snapshotsFetched, 1)
	ev := models.MarketEvent{
		Type:         models.EventOpenInterest,
		Symbol:       symbol,
		OpenInterest: &oi,
	}
	if !p.channels.SendEvent(p.ctx, ev) && p.ctx.Err() == nil {
		log.Warn("event channel full, open interest snapshot dropped")
	}
}
