package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stacker/pkg/retrier"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends notifications to a Telegram chat via the Bot API.
// Delivery runs in a background goroutine; Notify returns immediately.
type TelegramNotifier struct {
	token   string
	chatID  string
	client  *http.Client
	retrier *retrier.Retrier
	logger  *zap.Logger
	baseURL string
}

// NewTelegramNotifier creates a Telegram-backed notifier.
func NewTelegramNotifier(token, chatID string, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 30 * time.Second},
		retrier: retrier.New(retrier.WithMaxAttempts(3), retrier.WithDelay(2*time.Second)),
		logger:  logger,
		baseURL: telegramAPIBase,
	}
}

func (t *TelegramNotifier) Notify(level Level, event string, fields map[string]string) {
	text := formatMessage(level, event, fields)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		err := t.retrier.Do(ctx, func(ctx context.Context) error {
			return t.send(ctx, text)
		})
		if err != nil {
			t.logger.Warn("failed to deliver telegram notification",
				zap.String("event", event), zap.Error(err))
		}
	}()
}

func (t *TelegramNotifier) send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode telegram payload")
	}

	url := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("telegram API returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
