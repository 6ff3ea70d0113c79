// Package events describes security events emitted by the auth flows.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeRefreshReused = "security.refresh_reused"
	TypeLoggedOut     = "session.logged_out"
)

type Event struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Subject string            `json:"subject"`
	Time    time.Time         `json:"time"`
	Data    map[string]string `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(typ, subject string, data map[string]string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Subject: subject,
		Time:    time.Now().UTC(),
		Data:    data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
