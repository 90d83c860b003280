// Package events announces room lifecycle changes to other services. The
// game engine listens for status changes to learn when a match is starting.
package events

import (
	"context"
	"time"

	"github.com/mossy-p/lobby/internal/models"
)

// Type names a lifecycle event; it is also the last subject token.
type Type string

const (
	TypeCreated       Type = "created"
	TypeDeleted       Type = "deleted"
	TypeStatusChanged Type = "status_changed"
)

// Event is the payload published for each lifecycle change
type Event struct {
	Type           Type          `json:"type"`
	RoomID         string        `json:"roomId"`
	GameCode       string        `json:"gameCode,omitempty"`
	HostID         string        `json:"hostId,omitempty"`
	Status         models.Status `json:"status,omitempty"`
	PreviousStatus models.Status `json:"previousStatus,omitempty"`
	PlayerIDs      []string      `json:"playerIds,omitempty"`
	At             time.Time     `json:"at"`
}

// NewEvent fills an event from a committed room, stamped with at. room may
// be nil for deletions, in which case only the id is known.
func NewEvent(t Type, roomID string, room *models.Room, at time.Time) Event {
	evt := Event{Type: t, RoomID: roomID, At: at}
	if room != nil {
		evt.GameCode = room.GameCode
		evt.HostID = room.HostID
		evt.Status = room.Status
		evt.PlayerIDs = room.PlayerIDs()
	}
	return evt
}

// Publisher delivers lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards events. Used when no message bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
