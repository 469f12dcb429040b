package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
)

// Notification carries everything a sink needs to render one alert.
type Notification struct {
	UserID       int64
	Address      string
	ProtocolName string
	MarketLabel  string
	Health       position.HealthFactor
	Threshold    decimal.Decimal
	DropPct      decimal.Decimal
	CheckedAt    time.Time
}

// Sink delivers alerts to users.
type Sink interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramSink pushes alerts through the Telegram Bot API. Messages go
// to the user's chat when the user id is set, otherwise to the
// configured default chat.
type TelegramSink struct {
	botToken      string
	defaultChatID string
	baseURL       string
	client        *http.Client
	logger        zerolog.Logger
}

func NewTelegramSink(botToken, defaultChatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramSink{
		botToken:      botToken,
		defaultChatID: defaultChatID,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: timeout},
		logger:        logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API.
func (s *TelegramSink) Notify(ctx context.Context, note Notification) error {
	chatID := s.defaultChatID
	if note.UserID != 0 {
		chatID = strconv.FormatInt(note.UserID, 10)
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	s.logger.Info().
		Str("protocol", note.ProtocolName).
		Str("address", note.Address).
		Str("health", note.Health.String()).
		Msg("alert delivered (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Health Alert]\n")
	builder.WriteString(fmt.Sprintf("Protocol: %s", note.ProtocolName))
	if note.MarketLabel != "" {
		builder.WriteString(fmt.Sprintf(" (%s)", note.MarketLabel))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Address: %s\n", position.ShortAddress(note.Address)))
	builder.WriteString(fmt.Sprintf("Health: %s (alert below %s)\n", note.Health.String(), note.Threshold.StringFixed(3)))
	if note.Health.Defined() {
		builder.WriteString(fmt.Sprintf("Distance to liquidation: %s%% price drop\n", note.DropPct.StringFixed(1)))
	}
	builder.WriteString(fmt.Sprintf("Checked: %s UTC\n", note.CheckedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Sink = (*TelegramSink)(nil)
