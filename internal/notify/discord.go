package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Embed colours per severity.
var discordColours = map[Severity]int{
	SeverityInfo:  0x2ecc71,
	SeverityWarn:  0xf1c40f,
	SeverityError: 0xe74c3c,
}

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient(), now: time.Now}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

// Send posts msg as a single embed coloured by severity.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       discordColours[msg.Severity],
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, discordField{Name: f[0], Value: f[1], Inline: f[0] == "batch"})
	}

	err := postJSON(ctx, d.client, d.webhookURL, map[string]any{
		"username": "lastvalue",
		"embeds":   []discordEmbed{embed},
	})
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
