package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	defaultSubjectPrefix = "pairing"

	headerEvent     = "Pairing-Event"
	headerTimestamp = "Pairing-Timestamp"
)

// NATSSink publishes each event on <prefix>.<event type>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink connects to url. The connection reconnects on its own; a
// publish during an outage is buffered by the client.
func NewNATSSink(url, prefix, clientName string) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return newNATSSink(nc, prefix), nil
}

func newNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	return &NATSSink{nc: nc, prefix: subjectPrefix(prefix)}
}

// subjectPrefix trims trailing dots; an empty prefix becomes "pairing".
func subjectPrefix(prefix string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return defaultSubjectPrefix
	}
	return prefix
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

func (s *NATSSink) Publish(_ context.Context, ev Event) error {
	return s.nc.PublishMsg(s.message(ev))
}

func (s *NATSSink) message(ev Event) *nats.Msg {
	msg := nats.NewMsg(s.Subject(ev.Type))
	msg.Data = ev.Data
	msg.Header.Set(headerEvent, ev.Type)
	msg.Header.Set(headerTimestamp, ev.Timestamp.UTC().Format(time.RFC3339Nano))
	return msg
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
