package writer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

const telegramAPIBase = "https://api.telegram.org"

// telegramSink posts alerts to a Telegram chat through the bot API, rate
// limited to the configured messages per second.
type telegramSink struct {
	cfg     appconfig.TelegramAlertConfig
	client  *http.Client
	limiter *rate.Limiter
	apiBase string
	log     *logger.Log
}

func newTelegramSink(cfg appconfig.TelegramAlertConfig) *telegramSink {
	mps := cfg.MessagesPerSecond
	if mps <= 0 {
		mps = 1
	}
	return &telegramSink{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(mps), 1),
		apiBase: telegramAPIBase,
		log:     logger.GetLogger(),
	}
}

func (s *telegramSink) Name() string { return "telegram" }

func priorityMarker(priority models.AlertPriority) string {
	switch priority {
	case models.PriorityHigh:
		return "\U0001F6A8"
	case models.PriorityMedium:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func (s *telegramSink) Send(ctx context.Context, text string, priority models.AlertPriority) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("chat_id", s.cfg.ChatID)
	form.Set("text", priorityMarker(priority)+" "+text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram api status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
