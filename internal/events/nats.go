package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/mossy-p/lobby/config"
)

// Connect dials NATS with reconnect handlers that log through zerolog.
func Connect(cfg config.NATSConfig, log zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("lobby"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return conn, nil
}

// NATSPublisher publishes events as JSON on <prefix>.<roomId>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

func NewNATSPublisher(nc *nats.Conn, prefix string, log zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix, log: log}
}

// Subject builds the subject an event is published on.
func Subject(prefix string, evt Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, evt.RoomID, evt.Type)
}

func (p *NATSPublisher) Publish(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := Subject(p.prefix, evt)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().Str("subject", subject).Msg("published room event")
	return nil
}
