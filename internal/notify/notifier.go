// Package notify delivers operator alerts for committed contract events to
// Telegram and Discord, filtered by event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Notifier formats allowed events and fans them out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier forwards only the named events; an empty list means
// DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether alerts for the named event are forwarded.
func (n *Notifier) Enabled(event string) bool {
	return n.events[event]
}

// Alert formats a committed event and sends it when its name is allowed.
// Events without an alert format are skipped.
func (n *Notifier) Alert(ctx context.Context, rec domain.EventRecord) error {
	if !n.events[rec.Name] {
		return nil
	}
	a, ok, err := FormatEvent(rec)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if !ok {
		return nil
	}
	return n.Send(ctx, a)
}

// Send delivers a to every sender. One failing sender does not stop the
// others; the failures are joined.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", a.Event),
			slog.Uint64("seq", a.Seq),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d sender(s) failed: %w", len(errs), len(n.senders), errors.Join(errs...))
	}
	return nil
}
