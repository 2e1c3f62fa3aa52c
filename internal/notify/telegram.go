package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const telegramAPIBase = "https://api.telegram.org"

var severityMarks = map[Severity]string{
	SeverityInfo:  "✅",
	SeverityWarn:  "⚠️",
	SeverityError: "❌",
}

// TelegramSender posts to one chat through the Bot API sendMessage call.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPIBase,
		client:  newHTTPClient(),
	}
}

// Send renders msg as Telegram HTML. Instrument and batch ids are escaped,
// so ids containing Markdown characters render verbatim.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	err := postJSON(ctx, t.client, fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token), map[string]any{
		"chat_id":                  t.chatID,
		"text":                     telegramText(msg),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func telegramText(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n%s", severityMarks[msg.Severity], html.EscapeString(msg.Title), html.EscapeString(msg.Body))
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "\n<i>%s</i>: <code>%s</code>", html.EscapeString(f[0]), html.EscapeString(f[1]))
	}
	return b.String()
}
