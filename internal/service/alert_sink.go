package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Alerter turns committed events into operator notifications.
type Alerter interface {
	Enabled(event string) bool
	Alert(ctx context.Context, rec domain.EventRecord) error
}

// AlertSink queues alertable events at commit time and sends them from Run,
// so slow webhooks never hold up a transaction's caller.
type AlertSink struct {
	alerter Alerter
	queue   chan domain.EventRecord
	logger  *slog.Logger
}

func NewAlertSink(alerter Alerter, buffer int, logger *slog.Logger) *AlertSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &AlertSink{
		alerter: alerter,
		queue:   make(chan domain.EventRecord, buffer),
		logger:  logger.With(slog.String("component", "alert_sink")),
	}
}

var _ chain.Sink = (*AlertSink)(nil)

// Deliver enqueues the receipt's alertable events. A full queue drops them.
func (s *AlertSink) Deliver(_ context.Context, r *chain.Receipt) error {
	dropped := 0
	for _, ev := range r.Events {
		if !s.alerter.Enabled(ev.Name) {
			continue
		}
		select {
		case s.queue <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("alert_sink: queue full, dropped %d alert(s) for seq %d", dropped, r.Tx.Seq)
	}
	return nil
}

// Run sends queued alerts until ctx is cancelled.
func (s *AlertSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.queue:
			if err := s.alerter.Alert(ctx, ev); err != nil {
				s.logger.WarnContext(ctx, "alert_sink: alert failed",
					slog.String("event", ev.Name),
					slog.Uint64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
