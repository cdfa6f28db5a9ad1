package notify

import (
	"context"
	"net/http"
)

// Discord embed colours by event.
var discordColors = map[string]int{
	EventGameOver:       0xF1C40F,
	EventDispatchFailed: 0xE74C3C,
	EventPollerError:    0xE67E22,
	EventStartup:        0x2ECC71,
}

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
}

// Send posts msg as a single embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"embeds": []discordEmbed{{
			Title:       msg.Title,
			Description: msg.Body,
			Color:       discordColors[msg.Event],
		}},
		"allowed_mentions": map[string]any{"parse": []string{}},
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload)
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
