package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

type recordingSender struct {
	name string
	err  error
	msgs []Message
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{domain.AuditBatchCancelled}, discardLogger())

	ctx := context.Background()
	_ = n.NotifyBatch(ctx, domain.BatchEvent{Event: domain.AuditBatchCompleted, BatchID: "b1"})
	_ = n.NotifyBatch(ctx, domain.BatchEvent{Event: domain.AuditBatchCancelled, BatchID: "b1", Discarded: 3})

	if len(s.msgs) != 1 || s.msgs[0].Title != "Batch cancelled" {
		t.Errorf("msgs = %+v, want only the cancel", s.msgs)
	}
}

func TestNotifyWithoutFilterSendsEverything(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	_ = n.NotifyBatch(context.Background(), domain.BatchEvent{Event: domain.AuditBatchStarted, BatchID: "b1"})
	if len(s.msgs) != 1 {
		t.Errorf("sent %d, want 1", len(s.msgs))
	}
}

func TestSendCollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Send(context.Background(), Message{Title: "t"})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bad: boom") {
		t.Errorf("err = %v", err)
	}
	if len(good.msgs) != 1 {
		t.Error("a failing sender stopped delivery to the next one")
	}
}

func TestFormatBatchEvent(t *testing.T) {
	instruments := make([]string, 12)
	for i := range instruments {
		instruments[i] = string(rune('A' + i))
	}
	msg := FormatBatchEvent(domain.BatchEvent{
		Event: domain.AuditBatchCompleted, BatchID: "b7", Staged: 5, Applied: 4, Superseded: 1,
		Instruments: instruments,
	})
	if msg.Title != "Batch completed" || msg.Body != "5 staged, 4 applied, 1 superseded" || msg.Severity != SeverityInfo {
		t.Errorf("completed = %+v", msg)
	}
	if len(msg.Fields) != 2 || msg.Fields[1][1] != "A, B, C, D, E, F, G, H, I, J (+2 more)" {
		t.Errorf("fields = %v", msg.Fields)
	}

	msg = FormatBatchEvent(domain.BatchEvent{Event: domain.AuditBatchCancelled, BatchID: "b8", Discarded: 2})
	if msg.Severity != SeverityWarn || msg.Body != "2 staged records discarded" {
		t.Errorf("cancelled = %+v", msg)
	}
	if msg := FormatBatchEvent(domain.BatchEvent{Event: domain.AuditBatchStarted, BatchID: "b9"}); msg.Title != "Batch started" {
		t.Errorf("title = %q", msg.Title)
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	msg := Message{Title: "Batch completed", Body: "1 applied", Fields: [][2]string{{"instruments", "EUR_USD<x>"}}}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bottok/sendMessage" {
		t.Errorf("path = %q", path)
	}
	want := "✅ <b>Batch completed</b>\n1 applied\n<i>instruments</i>: <code>EUR_USD&lt;x&gt;</code>"
	if got["chat_id"] != "42" || got["parse_mode"] != "HTML" || got["text"] != want {
		t.Errorf("payload = %v", got)
	}
}

func TestDiscordSender(t *testing.T) {
	var got struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC) }
	err := d.Send(context.Background(), FormatBatchEvent(domain.BatchEvent{Event: domain.AuditBatchCancelled, BatchID: "b1"}))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %+v", got.Embeds)
	}
	e := got.Embeds[0]
	if e.Color != discordColours[SeverityWarn] || e.Timestamp != "2025-01-31T12:00:00Z" || e.Fields[0].Value != "b1" {
		t.Errorf("embed = %+v", e)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "nope") {
		t.Errorf("err = %v, want status 400 error", err)
	}
}
