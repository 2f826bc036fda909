// Package notify implements the outbound notification sink. Messages are
// best-effort: identical texts within a short window are coalesced and a
// failed send is logged and dropped, never surfaced to callers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
)

// Notifier is the outbound message sink contract.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Nop discards every message. Used when no notifier is configured.
type Nop struct{}

func (Nop) Send(context.Context, string) {}

// DedupeWindow coalesces identical messages sent within this interval.
const DedupeWindow = 10 * time.Second

const defaultBaseURL = "https://api.telegram.org"

// Telegram posts messages to a Telegram bot chat.
type Telegram struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

// TelegramOption customizes a Telegram notifier.
type TelegramOption func(*Telegram)

// WithBaseURL overrides the Telegram API root. Used by tests.
func WithBaseURL(baseURL string) TelegramOption {
	return func(t *Telegram) {
		t.baseURL = baseURL
	}
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(botToken, chatID string, logger *slog.Logger, options ...TelegramOption) *Telegram {
	t := &Telegram{
		botToken:   botToken,
		chatID:     chatID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
		recent:     map[string]time.Time{},
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Send delivers text to the chat. Duplicate texts within DedupeWindow are
// dropped silently; a delivery failure after retries is logged and dropped.
// Send never blocks on anything but the HTTP round trips themselves.
func (t *Telegram) Send(ctx context.Context, text string) {
	if t.seenRecently(text) {
		return
	}

	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return t.post(ctx, text)
		},
		retry.Attempts(2),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		t.logger.Warn("dropping notification after failed delivery", "error", err.Error())
	}
}

func (t *Telegram) seenRecently(text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, sentAt := range t.recent {
		if now.Sub(sentAt) > DedupeWindow {
			delete(t.recent, k)
		}
	}

	if sentAt, ok := t.recent[text]; ok && now.Sub(sentAt) <= DedupeWindow {
		return true
	}
	t.recent[text] = now
	return false
}

func (t *Telegram) post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage returned %d", resp.StatusCode)
	}
	return nil
}
