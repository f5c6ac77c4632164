// Package notify delivers Slack alerts and transactional email.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	slackUsername       = "M-Pesa Balance Monitor"
	slackIcon           = ":money_with_wings:"
	slackDefaultChannel = "#general"
)

// SlackNotifier posts messages to incoming webhooks.
type SlackNotifier struct {
	http *http.Client
}

// NewSlackNotifier returns a notifier with a bounded request timeout.
func NewSlackNotifier(timeout time.Duration) *SlackNotifier {
	return &SlackNotifier{http: &http.Client{Timeout: timeout}}
}

type slackPayload struct {
	Text      string `json:"text"`
	Channel   string `json:"channel"`
	Username  string `json:"username"`
	IconEmoji string `json:"icon_emoji"`
}

// Post sends text to webhookURL. Any non-2xx response is an error.
func (s *SlackNotifier) Post(ctx context.Context, webhookURL, channel, text string) error {
	if channel == "" {
		channel = slackDefaultChannel
	}
	body, err := json.Marshal(slackPayload{Text: text, Channel: channel, Username: slackUsername, IconEmoji: slackIcon})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
