package ws

import (
	"context"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/observability"
)

// Sink receives envelopes drained from the Outbox.
type Sink interface {
	Deliver(env Envelope)
}

// Outbox is the explicit outbound event queue between committed mutations and
// delivery. Publish never blocks: when the queue is full the event is dropped.
type Outbox struct {
	queue chan Envelope
	sinks []Sink
}

func NewOutbox(size int, sinks ...Sink) *Outbox {
	if size <= 0 {
		size = 1024
	}
	return &Outbox{queue: make(chan Envelope, size), sinks: sinks}
}

// Attach adds sinks. It must be called before Run.
func (o *Outbox) Attach(sinks ...Sink) {
	o.sinks = append(o.sinks, sinks...)
}

func (o *Outbox) Publish(env Envelope) {
	select {
	case o.queue <- env:
		observability.EventsPublished().WithLabelValues(string(env.Message.Type)).Inc()
	default:
		observability.EventsDropped().WithLabelValues("outbox_full").Inc()
		logger.Errorf("outbox full, dropping %s for %s %s", env.Message.Type, env.Audience, env.Target)
	}
}

// Run drains the queue until ctx is done; events still queued at that point are flushed.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case env := <-o.queue:
					o.dispatch(env)
				default:
					return
				}
			}
		case env := <-o.queue:
			o.dispatch(env)
		}
	}
}

func (o *Outbox) dispatch(env Envelope) {
	for _, s := range o.sinks {
		s.Deliver(env)
	}
}

// Len is the number of queued envelopes.
func (o *Outbox) Len() int { return len(o.queue) }
