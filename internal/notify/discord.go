package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// discordLimit is the maximum content length Discord accepts.
const discordLimit = 2000

type discordPayload struct {
	Content         string          `json:"content"`
	Username        string          `json:"username,omitempty"`
	AllowedMentions discordMentions `json:"allowed_mentions"`
}

// discordMentions with an empty Parse list keeps alerts from pinging
// anyone even when market titles contain @ handles.
type discordMentions struct {
	Parse []string `json:"parse"`
}

type discordRateLimit struct {
	RetryAfter float64 `json:"retry_after"`
}

// DiscordSender posts the plain-text rendering to a webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordSender) Send(ctx context.Context, m Message) error {
	content := m.Text
	if r := []rune(content); len(r) > discordLimit {
		content = string(r[:discordLimit-1]) + "…"
	}
	body, err := json.Marshal(discordPayload{
		Content:         content,
		Username:        "crossarb",
		AllowedMentions: discordMentions{Parse: []string{}},
	})
	if err != nil {
		return fmt.Errorf("discord: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: post: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var rl discordRateLimit
		_ = json.Unmarshal(respBody, &rl)
		return fmt.Errorf("discord: %w: retry after %.1fs", domain.ErrRateLimited, rl.RetryAfter)
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
