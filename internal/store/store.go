// Package store persists room documents and streams their changes.
//
// Every write to a room goes through Update, which the implementations run
// as a compare-and-swap on the document: the mutation sees the latest
// committed revision and its result is only committed if nothing else wrote
// in between. Player-list edits inside a mutation are therefore element-level
// operations against fresh state, never blind overwrites.
package store

import (
	"context"
	"errors"

	"github.com/mossy-p/lobby/internal/models"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrConflict = errors.New("game code already in use")
	// ErrContention means an update kept losing the compare-and-swap race.
	ErrContention = errors.New("room update contention")
)

// Outcome tells the store what to do with the document a Mutation saw.
type Outcome int

const (
	// Keep commits nothing.
	Keep Outcome = iota
	// Save commits the mutated document.
	Save
	// Remove deletes the document.
	Remove
)

// Mutation edits room in place. It may be called more than once for a single
// Update when the store detects a concurrent write, so it must not have side
// effects beyond room and its own captured results.
type Mutation func(room *models.Room) (Outcome, error)

// Change is one entry in a room's change stream.
type Change struct {
	Room    *models.Room `json:"room,omitempty"`
	Deleted bool         `json:"deleted,omitempty"`
}

// Store is the persistence contract the lobby depends on.
type Store interface {
	// Create inserts a new room. ErrConflict if its game code is taken.
	Create(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, id string) (*models.Room, error)
	FindByCode(ctx context.Context, code string) (*models.Room, error)
	// ListOpen returns waiting and ready rooms, newest first.
	ListOpen(ctx context.Context) ([]*models.Room, error)
	// Update atomically applies m to the room. It returns the committed
	// document, or nil when the mutation removed it.
	Update(ctx context.Context, id string, m Mutation) (*models.Room, error)
	// Delete removes a room unconditionally. Absent rooms are a no-op.
	Delete(ctx context.Context, id string) error
	// Subscribe streams changes to one room in commit order until the room
	// is deleted or expires, ctx ends, or cancel is called. A stream that
	// closes without a Deleted change lost its connection to the store.
	Subscribe(ctx context.Context, id string) (<-chan Change, func(), error)
}
