package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TPOFlow   ServiceConfig   `yaml:"tpoflow"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Feed      FeedConfig      `yaml:"feed"`
	Symbols   []string        `yaml:"symbols"`
	Profile   ProfileConfig   `yaml:"profile"`
	VWAP      VWAPConfig      `yaml:"vwap"`
	OrderFlow OrderFlowConfig `yaml:"orderflow"`
	Signals   SignalsConfig   `yaml:"signals"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Journal   JournalConfig   `yaml:"journal"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatchEnabled bool   `yaml:"cloudwatch_enabled"`
	Region            string `yaml:"region"`
	Namespace         string `yaml:"namespace"`
}

type ChannelsConfig struct {
	EventBuffer  int `yaml:"event_buffer"`
	SignalBuffer int `yaml:"signal_buffer"`
}

type FeedConfig struct {
	RestURL           string        `yaml:"rest_url"`
	WsURL             string        `yaml:"ws_url"`
	CandleInterval    string        `yaml:"candle_interval"`
	WarmupBars        int           `yaml:"warmup_bars"`
	OIPollInterval    time.Duration `yaml:"oi_poll_interval"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	Timeout           time.Duration `yaml:"timeout"`
}

type ProfileConfig struct {
	SessionDuration  time.Duration `yaml:"session_duration"`
	ValueAreaPercent float64       `yaml:"value_area_percent"`
	TickSize         float64       `yaml:"tick_size"`
}

type VWAPConfig struct {
	AnchorPeriod             time.Duration `yaml:"anchor_period"`
	PullbackTolerancePercent float64       `yaml:"pullback_tolerance_percent"`
	PullbackWindowBars       int           `yaml:"pullback_window_bars"`
	SlopeLookbackBars        int           `yaml:"slope_lookback_bars"`
}

type OrderFlowConfig struct {
	Mode             string `yaml:"mode"` // "strict" or "lenient"
	MinConfirmations int    `yaml:"min_confirmations"`
	StreakThreshold  int    `yaml:"streak_threshold"`
}

// Strict reports whether all four order-flow sub-conditions are required.
func (c OrderFlowConfig) Strict() bool {
	return strings.EqualFold(c.Mode, "strict")
}

type SignalsConfig struct {
	Weights             WeightsConfig    `yaml:"weights"`
	Thresholds          ThresholdsConfig `yaml:"thresholds"`
	Cooldown            time.Duration    `yaml:"cooldown"`
	FailureLookbackBars int              `yaml:"failure_lookback_bars"`
}

type WeightsConfig struct {
	Profile float64 `yaml:"profile"`
	VWAP    float64 `yaml:"vwap"`
	Flow    float64 `yaml:"flow"`
}

type ThresholdsConfig struct {
	LongEntry  float64 `yaml:"long_entry"`
	ShortEntry float64 `yaml:"short_entry"`
	Failure    float64 `yaml:"failure"`
}

// ForType returns the confidence threshold for the given signal type name.
func (t ThresholdsConfig) ForType(signalType string) float64 {
	switch signalType {
	case "LONG_ENTRY":
		return t.LongEntry
	case "SHORT_ENTRY":
		return t.ShortEntry
	default:
		return t.Failure
	}
}

type AlertsConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Console  bool                `yaml:"console"`
	File     FileAlertConfig     `yaml:"file"`
	Telegram TelegramAlertConfig `yaml:"telegram"`
	Throttle ThrottleConfig      `yaml:"throttle"`
}

type FileAlertConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	MaxAge  int    `yaml:"max_age"`
}

type TelegramAlertConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BotToken          string  `yaml:"bot_token"`
	ChatID            string  `yaml:"chat_id"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
}

type ThrottleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	MaxPerHour      int           `yaml:"max_per_hour"`
}

type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoadConfig reads, env-overrides and validates the configuration. A
// validation failure is fatal: no symbol may begin processing against an
// invalid configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Channels: ChannelsConfig{
			EventBuffer:  2048,
			SignalBuffer: 64,
		},
		Feed: FeedConfig{
			RestURL:           "https://fapi.binance.com",
			WsURL:             "wss://fstream.binance.com/stream",
			CandleInterval:    "1m",
			WarmupBars:        120,
			OIPollInterval:    30 * time.Second,
			RequestsPerSecond: 5,
			BurstSize:         10,
			Timeout:           10 * time.Second,
		},
		Profile: ProfileConfig{
			SessionDuration:  24 * time.Hour,
			ValueAreaPercent: 70,
			TickSize:         0.1,
		},
		VWAP: VWAPConfig{
			AnchorPeriod:             24 * time.Hour,
			PullbackTolerancePercent: 0.05,
			PullbackWindowBars:       3,
			SlopeLookbackBars:        20,
		},
		OrderFlow: OrderFlowConfig{
			Mode:             "lenient",
			MinConfirmations: 3,
			StreakThreshold:  3,
		},
		Signals: SignalsConfig{
			Weights:             WeightsConfig{Profile: 0.25, VWAP: 0.25, Flow: 0.5},
			Thresholds:          ThresholdsConfig{LongEntry: 0.7, ShortEntry: 0.7, Failure: 0.85},
			Cooldown:            15 * time.Minute,
			FailureLookbackBars: 10,
		},
		Alerts: AlertsConfig{
			Enabled: true,
			Console: true,
			Throttle: ThrottleConfig{
				Enabled:         true,
				DuplicateWindow: 5 * time.Minute,
				MaxPerHour:      20,
			},
			Telegram: TelegramAlertConfig{MessagesPerSecond: 1},
		},
		Journal: JournalConfig{
			Dir:           "journal",
			FlushInterval: time.Minute,
		},
	}
}

// applyEnvOverrides pulls secrets from the environment so they never need to
// live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alerts.Telegram.BotToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alerts.Telegram.ChatID = strings.TrimSpace(v)
	}
	if cfg.Journal.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Journal.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Journal.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Journal.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Journal.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.TPOFlow.Name == "" {
		return fmt.Errorf("tpoflow.name is required")
	}
	if cfg.TPOFlow.Version == "" {
		return fmt.Errorf("tpoflow.version is required")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}
	if cfg.Channels.SignalBuffer <= 0 {
		return fmt.Errorf("channels.signal_buffer must be greater than 0")
	}

	if cfg.Feed.WarmupBars < 0 {
		return fmt.Errorf("feed.warmup_bars must not be negative")
	}
	if cfg.Feed.OIPollInterval <= 0 {
		return fmt.Errorf("feed.oi_poll_interval must be greater than 0")
	}
	if cfg.Feed.RequestsPerSecond <= 0 {
		return fmt.Errorf("feed.requests_per_second must be greater than 0")
	}

	if cfg.Profile.SessionDuration <= 0 {
		return fmt.Errorf("profile.session_duration must be greater than 0")
	}
	if cfg.Profile.ValueAreaPercent <= 0 || cfg.Profile.ValueAreaPercent > 100 {
		return fmt.Errorf("profile.value_area_percent must be in (0,100]")
	}
	if cfg.Profile.TickSize <= 0 {
		return fmt.Errorf("profile.tick_size must be greater than 0")
	}

	if cfg.VWAP.AnchorPeriod <= 0 {
		return fmt.Errorf("vwap.anchor_period must be greater than 0")
	}
	if cfg.VWAP.PullbackWindowBars < 1 {
		return fmt.Errorf("vwap.pullback_window_bars must be at least 1")
	}
	if cfg.VWAP.SlopeLookbackBars < 2 {
		return fmt.Errorf("vwap.slope_lookback_bars must be at least 2")
	}

	switch strings.ToLower(cfg.OrderFlow.Mode) {
	case "strict", "lenient":
	default:
		return fmt.Errorf("orderflow.mode must be 'strict' or 'lenient'")
	}
	if cfg.OrderFlow.MinConfirmations < 1 || cfg.OrderFlow.MinConfirmations > 4 {
		return fmt.Errorf("orderflow.min_confirmations must be in [1,4]")
	}
	if cfg.OrderFlow.StreakThreshold < 1 {
		return fmt.Errorf("orderflow.streak_threshold must be at least 1")
	}

	w := cfg.Signals.Weights
	if w.Profile < 0 || w.VWAP < 0 || w.Flow < 0 {
		return fmt.Errorf("signals.weights must not be negative")
	}
	if math.Abs(w.Profile+w.VWAP+w.Flow-1.0) > 1e-6 {
		return fmt.Errorf("signals.weights must sum to 1, got %f", w.Profile+w.VWAP+w.Flow)
	}
	for name, th := range map[string]float64{
		"long_entry":  cfg.Signals.Thresholds.LongEntry,
		"short_entry": cfg.Signals.Thresholds.ShortEntry,
		"failure":     cfg.Signals.Thresholds.Failure,
	} {
		if th < 0 || th > 1 {
			return fmt.Errorf("signals.thresholds.%s must be in [0,1]", name)
		}
	}
	if cfg.Signals.Cooldown < 0 {
		return fmt.Errorf("signals.cooldown must not be negative")
	}
	if cfg.Signals.FailureLookbackBars < 1 {
		return fmt.Errorf("signals.failure_lookback_bars must be at least 1")
	}

	if cfg.Alerts.Telegram.Enabled {
		if cfg.Alerts.Telegram.BotToken == "" || cfg.Alerts.Telegram.ChatID == "" {
			return fmt.Errorf("alerts.telegram.bot_token and alerts.telegram.chat_id are required when telegram is enabled")
		}
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.Dir == "" {
			return fmt.Errorf("journal.dir is required when journal is enabled")
		}
		if cfg.Journal.FlushInterval <= 0 {
			return fmt.Errorf("journal.flush_interval must be greater than 0")
		}
		if cfg.Journal.S3.Enabled {
			if cfg.Journal.S3.Bucket == "" {
				return fmt.Errorf("journal.s3.bucket is required when S3 upload is enabled")
			}
			if cfg.Journal.S3.Region == "" {
				return fmt.Errorf("journal.s3.region is required when S3 upload is enabled")
			}
		}
	}

	return nil
}
