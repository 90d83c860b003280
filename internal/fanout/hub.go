// Package fanout shares one store change stream per viewed room among all of
// that room's live subscribers.
package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("fanout hub closed")

const defaultBuffer = 16

// Hub keeps one feed per room that currently has subscribers.
type Hub struct {
	store  store.Store
	buffer int
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	feeds  map[string]*feed
	closed bool
}

func NewHub(st store.Store, buffer int, log zerolog.Logger) *Hub {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:  st,
		buffer: buffer,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		feeds:  make(map[string]*feed),
	}
}

// Subscribe streams snapshots of one room. The current snapshot comes first,
// then one per committed change in revision order. When the room is deleted
// the channel yields nil once and closes. A channel that closes without the
// nil means the subscriber fell behind or the store connection was lost; the
// caller has to subscribe again to catch up.
//
// The returned func unsubscribes; ending ctx does the same.
func (h *Hub) Subscribe(ctx context.Context, roomID string) (<-chan *models.Room, func(), error) {
	for {
		f, created, err := h.feed(roomID)
		if err != nil {
			return nil, nil, err
		}
		if created {
			f.start()
		}

		select {
		case <-f.ready:
		case <-ctx.Done():
			if created {
				f.releaseIfIdle()
			}
			return nil, nil, ctx.Err()
		}
		if f.err != nil {
			return nil, nil, f.err
		}

		sub, ok := f.add()
		if !ok {
			// Feed ended between lookup and add; pick up its replacement.
			continue
		}

		var once sync.Once
		unsubscribe := func() { once.Do(func() { f.remove(sub) }) }
		stop := context.AfterFunc(ctx, unsubscribe)
		return sub.ch, func() {
			stop()
			unsubscribe()
		}, nil
	}
}

// Rooms returns how many rooms have a live feed.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}

// Subscribers returns how many subscribers a room's feed has.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	f := h.feeds[roomID]
	h.mu.Unlock()
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every feed and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	feeds := h.feeds
	h.feeds = make(map[string]*feed)
	h.mu.Unlock()

	h.cancel()
	for _, f := range feeds {
		f.finish(false)
	}
}

func (h *Hub) feed(roomID string) (*feed, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false, ErrClosed
	}
	if f, ok := h.feeds[roomID]; ok {
		return f, false, nil
	}
	f := &feed{
		hub:    h,
		roomID: roomID,
		subs:   make(map[*subscriber]struct{}),
		ready:  make(chan struct{}),
	}
	h.feeds[roomID] = f
	return f, true, nil
}

func (h *Hub) forget(f *feed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.feeds[f.roomID] == f {
		delete(h.feeds, f.roomID)
	}
}

type subscriber struct {
	ch chan *models.Room
}

// feed relays one room's store change stream to its subscribers.
type feed struct {
	hub    *Hub
	roomID string

	ready chan struct{}
	err   error // set before ready closes

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	latest *models.Room
	stop   func()
	done   bool
}

// start opens the store stream and loads the snapshot it will be applied
// on top of. The stream is opened first so no commit falls in between;
// anything at or below the snapshot's revision is dropped later.
func (f *feed) start() {
	defer close(f.ready)
	log := f.hub.log.With().Str("roomId", f.roomID).Logger()

	changes, stop, err := f.hub.store.Subscribe(f.hub.ctx, f.roomID)
	if err != nil {
		log.Error().Err(err).Msg("failed to open room change stream")
		f.fail(err)
		return
	}

	room, err := f.hub.store.Get(f.hub.ctx, f.roomID)
	if err != nil {
		stop()
		f.fail(err)
		return
	}

	f.mu.Lock()
	f.latest = room
	f.stop = stop
	f.mu.Unlock()

	log.Debug().Int64("revision", room.Revision).Msg("room feed started")
	go f.run(changes)
}

func (f *feed) fail(err error) {
	f.err = err
	f.mu.Lock()
	f.done = true
	f.mu.Unlock()
	f.hub.forget(f)
}

func (f *feed) run(changes <-chan store.Change) {
	for c := range changes {
		if c.Deleted {
			f.finish(true)
			return
		}
		f.deliver(c.Room)
	}
	f.finish(false)
}

// add registers a subscriber primed with the latest snapshot. It reports
// false if the feed already ended.
func (f *feed) add() (*subscriber, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return nil, false
	}
	// One slot past the buffer is reserved for the deletion signal.
	sub := &subscriber{ch: make(chan *models.Room, f.hub.buffer+1)}
	sub.ch <- f.latest.Clone()
	f.subs[sub] = struct{}{}
	return sub, true
}

func (f *feed) remove(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.ch)
	if len(f.subs) == 0 {
		f.shutdownLocked()
	}
}

// releaseIfIdle ends a feed nobody joined. A caller that raced to join it
// finds it done and starts a new one.
func (f *feed) releaseIfIdle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		f.shutdownLocked()
	}
}

func (f *feed) deliver(room *models.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done || room == nil {
		return
	}
	if f.latest != nil && room.Revision <= f.latest.Revision {
		return
	}
	f.latest = room

	for sub := range f.subs {
		if len(sub.ch) >= f.hub.buffer {
			f.hub.log.Warn().
				Str("roomId", f.roomID).
				Int64("revision", room.Revision).
				Msg("subscriber too slow, disconnecting")
			delete(f.subs, sub)
			close(sub.ch)
			continue
		}
		sub.ch <- room.Clone()
	}
	if len(f.subs) == 0 {
		f.shutdownLocked()
	}
}

// finish ends the feed. Subscribers get the nil terminal only when the room
// was deleted.
func (f *feed) finish(deleted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return
	}
	for sub := range f.subs {
		if deleted {
			sub.ch <- nil
		}
		close(sub.ch)
	}
	f.subs = make(map[*subscriber]struct{})
	if deleted {
		f.hub.log.Info().Str("roomId", f.roomID).Msg("room deleted, feed closed")
	} else {
		f.hub.log.Warn().Str("roomId", f.roomID).Msg("room change stream ended")
	}
	f.shutdownLocked()
}

func (f *feed) shutdownLocked() {
	if f.done {
		return
	}
	f.done = true
	if f.stop != nil {
		f.stop()
	}
	f.hub.forget(f)
}
