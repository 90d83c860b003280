package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mossy-p/lobby/internal/code"
	"github.com/mossy-p/lobby/internal/models"
)

const defaultWatchBuffer = 64

type watcher struct {
	ch     chan Change
	closed bool
}

func (w *watcher) close() {
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// MemoryStore keeps rooms in process. It is the store for local development
// and tests; documents are copied in and out so callers never share state.
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]*models.Room
	codes    map[string]string
	watchers map[string]map[*watcher]struct{}
	buffer   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*models.Room),
		codes:    make(map[string]string),
		watchers: make(map[string]map[*watcher]struct{}),
		buffer:   defaultWatchBuffer,
	}
}

func (s *MemoryStore) Create(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[room.GameCode]; taken {
		return ErrConflict
	}
	if _, exists := s.rooms[room.ID]; exists {
		return ErrConflict
	}

	stored := room.Clone()
	stored.Revision = 1
	room.Revision = 1
	s.rooms[room.ID] = stored
	s.codes[room.GameCode] = room.ID
	s.notify(room.ID, Change{Room: stored.Clone()})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryStore) FindByCode(ctx context.Context, gameCode string) (*models.Room, error) {
	s.mu.Lock()
	id, ok := s.codes[code.Normalize(gameCode)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]*models.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if room.Status.IsOpen() {
			open = append(open, room.Clone())
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ID > open[j].ID
		}
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})
	return open, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, m Mutation) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := current.Clone()
	outcome, err := m(next)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case Save:
		next.ID = current.ID
		next.Revision = current.Revision + 1
		s.rooms[id] = next
		if next.GameCode != current.GameCode {
			delete(s.codes, current.GameCode)
			s.codes[next.GameCode] = id
		}
		s.notify(id, Change{Room: next.Clone()})
		return next.Clone(), nil
	case Remove:
		s.remove(current)
		return nil, nil
	default:
		return current.Clone(), nil
	}
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		s.remove(room)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string) (<-chan Change, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{ch: make(chan Change, s.buffer)}

	s.mu.Lock()
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[*watcher]struct{})
	}
	s.watchers[id][w] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dropWatcher(id, w)
	}()

	return w.ch, cancel, nil
}

// remove deletes the room and terminates its change streams. Caller holds mu.
func (s *MemoryStore) remove(room *models.Room) {
	delete(s.rooms, room.ID)
	if s.codes[room.GameCode] == room.ID {
		delete(s.codes, room.GameCode)
	}
	s.notify(room.ID, Change{Deleted: true})
	for w := range s.watchers[room.ID] {
		s.dropWatcher(room.ID, w)
	}
}

// notify delivers c to every watcher of id. A watcher whose buffer is full
// is closed; it has to resubscribe and re-read. Caller holds mu.
func (s *MemoryStore) notify(id string, c Change) {
	for w := range s.watchers[id] {
		select {
		case w.ch <- c:
		default:
			s.dropWatcher(id, w)
		}
	}
}

func (s *MemoryStore) dropWatcher(id string, w *watcher) {
	w.close()
	delete(s.watchers[id], w)
	if len(s.watchers[id]) == 0 {
		delete(s.watchers, id)
	}
}
