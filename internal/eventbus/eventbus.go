// Package eventbus mirrors pairing events to systems outside the process.
//
// Two sinks ship with the plane: a NATS publisher and a signed webhook.
// Events are queued and delivered by a single worker, so a slow sink never
// holds up a websocket fan-out. When the queue is full the event is dropped
// with a warning; live channels remain the authoritative delivery path.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ── Event ────────────────────────────────────────────────────

// Event is one outbound notification. Data is the JSON frame exactly as it
// went out on the live channels.
type Event struct {
	Type      string
	Data      []byte
	Timestamp time.Time
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// ── Bus ──────────────────────────────────────────────────────

const defaultQueueSize = 256

// Bus fans events out to every registered sink.
type Bus struct {
	sinks []Sink
	queue chan Event

	closeOnce sync.Once
}

// New creates a bus over sinks. A bus with no sinks accepts and discards.
func New(queueSize int, sinks ...Sink) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{sinks: sinks, queue: make(chan Event, queueSize)}
}

// Enabled reports whether any sink is configured.
func (b *Bus) Enabled() bool {
	return b != nil && len(b.sinks) > 0
}

// Emit queues an event. It never blocks.
func (b *Bus) Emit(eventType string, data []byte) {
	if !b.Enabled() {
		return
	}
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
	select {
	case b.queue <- ev:
	default:
		log.Warn().Str("event", eventType).Msg("Event bus queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled, then drains whatever
// is still queued and closes the sinks.
func (b *Bus) Run(ctx context.Context) error {
	defer b.closeSinks()

	if !b.Enabled() {
		<-ctx.Done()
		return nil
	}

	log.Info().Int("sinks", len(b.sinks)).Msg("📣 Event bus started")
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		case <-ctx.Done():
			b.drain()
			return nil
		}
	}
}

func (b *Bus) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		default:
			return
		}
	}
}

// deliver sends ev to every sink concurrently and waits for all of them.
func (b *Bus) deliver(ctx context.Context, ev Event) {
	var wg sync.WaitGroup
	for _, s := range b.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Publish(ctx, ev); err != nil {
				log.Warn().Err(err).Str("sink", s.Name()).Str("event", ev.Type).Msg("Event publish failed")
				return
			}
			log.Debug().Str("sink", s.Name()).Str("event", ev.Type).Msg("Event published")
		}(s)
	}
	wg.Wait()
}

func (b *Bus) closeSinks() {
	b.closeOnce.Do(func() {
		for _, s := range b.sinks {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Str("sink", s.Name()).Msg("Failed to close event sink")
			}
		}
	})
}
