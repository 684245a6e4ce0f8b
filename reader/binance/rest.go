package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

// Client wraps the Binance futures REST client with a shared rate limiter.
// All REST paths (warmup klines, open interest polling) go through it.
type Client struct {
	config  *appconfig.Config
	client  *futures.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewClient(cfg *appconfig.Config) *Client {
	log := logger.GetLogger()

	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: cfg.Feed.Timeout}
	if cfg.Feed.RestURL != "" {
		client.SetApiEndpoint(cfg.Feed.RestURL)
	}

	rps := cfg.Feed.RequestsPerSecond
	if rps < 1 {
		rps = 1
	}
	burst := cfg.Feed.BurstSize
	if burst < 1 {
		burst = 1
	}

	log.WithComponent("binance_rest").WithFields(logger.Fields{
		"endpoint":            cfg.Feed.RestURL,
		"requests_per_second": rps,
		"burst":               burst,
	}).Info("binance rest client initialized")

	return &Client{
		config:  cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

// FetchWarmupCandles returns the most recent finalized candles for a symbol.
// The in-progress kline, if present, is dropped.
func (c *Client) FetchWarmupCandles(ctx context.Context, symbol string) ([]models.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	log := c.log.WithComponent("binance_rest").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_warmup",
	})

	start := time.Now()
	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(c.config.Feed.CandleInterval).
		Limit(c.config.Feed.WarmupBars + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(log, "binance_rest", "fetch_klines", time.Since(start), logger.Fields{
		"klines": len(klines),
	})

	now := time.Now()
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		closeTime := time.UnixMilli(k.CloseTime)
		if closeTime.After(now) {
			continue
		}
		candle, err := klineToCandle(symbol, k)
		if err != nil {
			log.WithError(err).Warn("skipping malformed kline")
			continue
		}
		candles = append(candles, candle)
	}

	log.WithFields(logger.Fields{"candles": len(candles)}).Info("warmup candles fetched")
	return candles, nil
}

func klineToCandle(symbol string, k *futures.Kline) (models.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("parse open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("parse high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("parse low %q: %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("parse close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("parse volume %q: %w", k.Volume, err)
	}

	return models.Candle{
		Symbol:      symbol,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       cls,
		Volume:      volume,
		PeriodStart: time.UnixMilli(k.OpenTime),
		PeriodEnd:   time.UnixMilli(k.CloseTime),
		IsFinal:     true,
	}, nil
}

// FetchOpenInterest returns the current open interest for a symbol.
func (c *Client) FetchOpenInterest(ctx context.Context, symbol string) (models.OpenInterest, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.OpenInterest{}, err
	}

	res, err := c.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.OpenInterest{}, fmt.Errorf("fetch open interest for %s: %w", symbol, err)
	}

	value, err := strconv.ParseFloat(res.OpenInterest, 64)
	if err != nil {
		return models.OpenInterest{}, fmt.Errorf("parse open interest %q: %w", res.OpenInterest, err)
	}

	return models.OpenInterest{
		Symbol:    symbol,
		Value:     value,
		Timestamp: time.UnixMilli(res.Time),
	}, nil
}
