package lobby

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mossy-p/lobby/internal/events"
	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

// fixedCodes hands out codes from a list, repeating the last one.
type fixedCodes struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (f *fixedCodes) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.codes)-1)
	f.calls++
	return f.codes[i], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// steppingClock advances one second per call so join and creation times
// are strictly ordered.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	events *recordingPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub), WithClock(steppingClock())}, opts...)
	return &fixture{svc: NewService(st, opts...), store: st, events: pub}
}

func identity(id string) models.Identity {
	return models.Identity{ID: id, DisplayName: "User " + id}
}

// createRoom makes a room hosted by "host" and joins n-1 more players
// named p1, p2, ...
func (f *fixture) createRoom(t *testing.T, n int) *models.Room {
	t.Helper()
	ctx := context.Background()
	room, err := f.svc.CreateRoom(ctx, CreateParams{
		Creator:    identity("host"),
		PlayerName: "Host",
		RoomName:   "Friday night",
	})
	require.NoError(t, err)

	for i := 1; i < n; i++ {
		id := fmt.Sprintf("p%d", i)
		room, err = f.svc.JoinRoom(ctx, room.ID, identity(id), "Player "+id)
		require.NoError(t, err)
	}
	return room
}

func (f *fixture) readyAll(t *testing.T, room *models.Room) *models.Room {
	t.Helper()
	var err error
	for _, id := range room.PlayerIDs() {
		room, err = f.svc.SetPlayerReady(context.Background(), room.ID, id, true)
		require.NoError(t, err)
	}
	return room
}

func (f *fixture) get(t *testing.T, id string) *models.Room {
	t.Helper()
	room, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return room
}

func hosts(room *models.Room) []string {
	var ids []string
	for _, p := range room.Players {
		if p.IsHost {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
