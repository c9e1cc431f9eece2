package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装连胜即将过期的告警上下文。
type Notification struct {
	Account       common.Address
	StreakCount   uint64
	Deadline      time.Time
	Remaining     time.Duration
	FeePct        decimal.Decimal
	DiscountPct   decimal.Decimal
	Channels      []string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Notify 推送连胜过期告警。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	err := n.sendMessage(ctx, sendMessageRequest{
		ChatID:                n.chatID,
		Text:                  renderMessage(note),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	n.logger.Info().Str("account", note.Account.Hex()).
		Uint64("streak", note.StreakCount).
		Dur("remaining", note.Remaining).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("streak expiry alert sent")
	return nil
}

func (n *TelegramNotifier) sendMessage(ctx context.Context, msg sendMessageRequest) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode sendMessage: %w", err)
	}

	endpoint := n.baseURL + "/bot" + n.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	switch {
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if decodeErr == nil && result.Description != "" {
			return fmt.Errorf("sendMessage: status %d: %s", resp.StatusCode, result.Description)
		}
		return fmt.Errorf("sendMessage: status %d", resp.StatusCode)
	case decodeErr != nil:
		return fmt.Errorf("decode sendMessage response: %w", decodeErr)
	case !result.OK:
		return fmt.Errorf("sendMessage rejected (code %d): %s", result.ErrorCode, result.Description)
	}
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Streak Degradation Imminent]\n")
	fmt.Fprintf(&b, "Account %s is on day %d.\n", note.Account.Hex(), note.StreakCount)
	fmt.Fprintf(&b, "Streak resets in %s (at %s UTC).\n",
		note.Remaining.Truncate(time.Second), note.Deadline.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Fee now %s%%, discounted tier %s%%.\n", note.FeePct.StringFixed(2), note.DiscountPct.StringFixed(2))
	if len(note.Channels) > 0 {
		fmt.Fprintf(&b, "Channels: %s\n", strings.Join(note.Channels, ", "))
	}
	b.WriteString(note.AdditionalMsg)
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
