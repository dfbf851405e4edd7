// Package notify carries "record added/updated" signals between the
// extraction workers and whoever holds a view of the candidate list.
package notify

import (
	"context"
	"time"
)

// Subject is the NATS subject change events are published on
const Subject = "candidates.changes"

// EventType distinguishes new records from changes to existing ones
type EventType string

const (
	EventCreated EventType = "record.created"
	EventUpdated EventType = "record.updated"
)

// Event signals that a record changed. Receivers re-fetch; the event carries
// no record data.
type Event struct {
	Type     EventType `json:"type"`
	RecordID string    `json:"record_id"`
	At       time.Time `json:"at"`
}

// Created builds a record.created event
func Created(id string) Event {
	return Event{Type: EventCreated, RecordID: id, At: time.Now().UTC()}
}

// Updated builds a record.updated event
func Updated(id string) Event {
	return Event{Type: EventUpdated, RecordID: id, At: time.Now().UTC()}
}

// Subscription is an active handler registration
type Subscription interface {
	Unsubscribe() error
}

// Notifier publishes and delivers change events
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, handler func(Event) error) (Subscription, error)
	Close()
}

// Noop discards events. Subscriptions never fire.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Subscribe(context.Context, func(Event) error) (Subscription, error) {
	return noopSubscription{}, nil
}

func (Noop) Close() {}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }
