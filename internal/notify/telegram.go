// Package notify sends outbound messages to users through the Telegram Bot
// API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
)

// Notifier delivers a message to a Telegram chat.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Telegram is the Bot API backed notifier.
type Telegram struct {
	token   string
	baseURL string
	http    *http.Client
	logger  logging.Logger
}

// NewTelegram builds a notifier for the given bot token. An empty token
// yields a disabled notifier that drops messages with a warning, so the
// service runs fine without a bot configured.
func NewTelegram(token string, logger logging.Logger) *Telegram {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Telegram{
		token:   token,
		baseURL: "https://api.telegram.org",
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.WithFields(logging.String("component", "telegram")),
	}
}

// Send posts one sendMessage call. Messages are HTML-formatted, matching
// what the bot's templates produce.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if t.token == "" {
		t.logger.Warn("telegram notifications disabled, dropping message", logging.Int64("chat_id", chatID))
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return errors.InternalError("failed to encode telegram message", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.InternalError("failed to build telegram request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return errors.NetworkError("telegram API unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.logger.Error("telegram API error", nil,
			logging.Int("status", resp.StatusCode),
			logging.String("body", string(body)))
		return errors.InternalError("telegram API error", nil).WithContext("status", resp.StatusCode)
	}

	t.logger.Debug("message delivered", logging.Int64("chat_id", chatID))
	return nil
}
