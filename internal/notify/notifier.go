// Package notify tells operators about batch outcomes over Telegram and
// Discord. Events can be filtered so only the outcomes an operator cares
// about are delivered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// Sender delivers a Message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans batch events out to every Sender. With a non-empty event
// list only those audit events are delivered.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyBatch formats ev and delivers it unless its event is filtered out.
func (n *Notifier) NotifyBatch(ctx context.Context, ev domain.BatchEvent) error {
	if len(n.events) > 0 && !n.events[ev.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Event))
		return nil
	}
	return n.Send(ctx, FormatBatchEvent(ev))
}

// Send delivers msg to every sender, unfiltered. One failing sender does
// not stop the others; all failures are returned together.
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
