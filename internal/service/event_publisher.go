package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Bus names committed events are published on.
const (
	ChannelEvents = "events"
	StreamEvents  = "stream:events"
)

// EventPublisher is a chain.Sink that fans committed events out to the
// signal bus: live subscribers get the pub/sub channel and late readers the
// durable stream.
type EventPublisher struct {
	bus domain.SignalBus
}

func NewEventPublisher(bus domain.SignalBus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

var _ chain.Sink = (*EventPublisher)(nil)

func (p *EventPublisher) Deliver(ctx context.Context, r *chain.Receipt) error {
	var errs []error
	for _, ev := range r.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", ev.Name, err))
			continue
		}
		if err := p.bus.Publish(ctx, ChannelEvents, data); err != nil {
			errs = append(errs, err)
		}
		if err := p.bus.StreamAppend(ctx, StreamEvents, data); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("event_publisher: seq %d: %w", r.Tx.Seq, errors.Join(errs...))
	}
	return nil
}
