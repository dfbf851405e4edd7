package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Nats delivers events over a NATS subject
type Nats struct {
	conn     *nats.Conn
	embedded *server.Server
	subject  string
}

var _ Notifier = &Nats{}

// Connect dials an external NATS server
func Connect(url string) (*Nats, error) {
	conn, err := nats.Connect(url, nats.Name("cv-triage"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Nats{conn: conn, subject: Subject}, nil
}

// NewInMemoryNats starts an embedded NATS server on a random local port and
// connects to it. Used when no external server is configured.
func NewInMemoryNats() (*Nats, error) {
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(4 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to start in-memory nats server")
	}

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &Nats{conn: conn, embedded: ns, subject: Subject}, nil
}

// URL is the client URL of the connected server
func (n *Nats) URL() string {
	return n.conn.ConnectedUrl()
}

// Publish sends an event
func (n *Nats) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe calls handler for every event until the subscription is
// dropped or ctx is done. Malformed payloads and handler errors are logged
// and dropped.
func (n *Nats) Subscribe(ctx context.Context, handler func(Event) error) (Subscription, error) {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Err(err).Msg("error decoding change event")
			return
		}
		if err := handler(event); err != nil {
			log.Err(err).Str("record_id", event.RecordID).Msg("error handling change event")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := sub.Unsubscribe(); err != nil && sub.IsValid() {
			log.Warn().Err(err).Str("subject", n.subject).Msg("Failed to unsubscribe")
		}
	})
	return &natsSubscription{sub: sub, stop: stop}, nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	stop func() bool
}

// Unsubscribe is safe to call after the subscribing context ended
func (s *natsSubscription) Unsubscribe() error {
	s.stop()
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Close drops the connection and stops the embedded server, if any
func (n *Nats) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
	if n.embedded != nil {
		n.embedded.Shutdown()
	}
}
