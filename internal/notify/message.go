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

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// Severity drives how a sender highlights a message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// Message is one operator notification.
type Message struct {
	Title    string
	Body     string
	Severity Severity
	// Fields are rendered as "key: value" lines, in order.
	Fields [][2]string
}

// instrumentPreview is how many instrument ids a completion message lists.
const instrumentPreview = 10

// FormatBatchEvent renders a batch event for operators. Completions are
// info, cancellations warn, rejections error.
func FormatBatchEvent(ev domain.BatchEvent) Message {
	msg := Message{Fields: [][2]string{{"batch", string(ev.BatchID)}}}
	switch ev.Event {
	case domain.AuditBatchCompleted:
		msg.Title = "Batch completed"
		msg.Body = fmt.Sprintf("%d staged, %d applied, %d superseded", ev.Staged, ev.Applied, ev.Superseded)
		if n := len(ev.Instruments); n > 0 {
			shown := ev.Instruments[:min(n, instrumentPreview)]
			list := strings.Join(shown, ", ")
			if n > len(shown) {
				list += fmt.Sprintf(" (+%d more)", n-len(shown))
			}
			msg.Fields = append(msg.Fields, [2]string{"instruments", list})
		}
	case domain.AuditBatchCancelled:
		msg.Title = "Batch cancelled"
		msg.Body = fmt.Sprintf("%d staged records discarded", ev.Discarded)
		msg.Severity = SeverityWarn
	case domain.AuditBatchRejected:
		msg.Title = "Batch operation rejected"
		msg.Body = ev.Status.String()
		msg.Severity = SeverityError
	default:
		msg.Title = "Batch " + strings.ReplaceAll(strings.TrimPrefix(ev.Event, "batch_"), "_", " ")
		msg.Body = ev.Status.String()
	}
	return msg
}

const sendTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: sendTimeout}
}

// postJSON posts payload to url and fails on any non-2xx reply, quoting up
// to 1 KiB of the response body.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
