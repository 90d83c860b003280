// Package lobby implements the room lifecycle: membership, host succession,
// readiness and status transitions, and room lookup.
//
// Service holds no locks and no room state. Every operation is a single
// store.Update whose mutation re-checks its preconditions against the latest
// committed document, so concurrent joins, leaves and kicks on one room are
// serialized by the store.
package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mossy-p/lobby/config"
	"github.com/mossy-p/lobby/internal/code"
	"github.com/mossy-p/lobby/internal/events"
	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

type Service struct {
	store  store.Store
	codes  code.Generator
	events events.Publisher
	limits config.LobbyConfig
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

func WithCodeGenerator(g code.Generator) Option {
	return func(s *Service) { s.codes = g }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLimits overrides the default capacity and the code retry bound.
// Zero fields keep their defaults.
func WithLimits(l config.LobbyConfig) Option {
	return func(s *Service) {
		if l.CodeAttempts > 0 {
			s.limits.CodeAttempts = l.CodeAttempts
		}
		if l.DefaultMinPlayers > 0 {
			s.limits.DefaultMinPlayers = l.DefaultMinPlayers
		}
		if l.DefaultMaxPlayers > 0 {
			s.limits.DefaultMaxPlayers = l.DefaultMaxPlayers
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		codes:  code.Random{},
		events: events.Nop{},
		limits: config.LobbyConfig{
			CodeAttempts:      5,
			DefaultMinPlayers: 5,
			DefaultMaxPlayers: 10,
		},
		log:   zerolog.Nop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// update runs m through the store and maps a missing document to
// ErrRoomNotFound.
func (s *Service) update(ctx context.Context, roomID string, m store.Mutation) (*models.Room, error) {
	room, err := s.store.Update(ctx, roomID, m)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

// publish is best effort: the write it describes has already committed.
func (s *Service) publish(ctx context.Context, evt events.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("roomId", evt.RoomID).Str("event", string(evt.Type)).Msg("failed to publish room event")
	}
}

func (s *Service) statusChanged(ctx context.Context, prev models.Status, room *models.Room) {
	if room == nil || room.Status == prev {
		return
	}
	s.log.Info().
		Str("roomId", room.ID).
		Str("from", string(prev)).
		Str("to", string(room.Status)).
		Msg("room status changed")

	evt := events.NewEvent(events.TypeStatusChanged, room.ID, room, s.timestamp())
	evt.PreviousStatus = prev
	s.publish(ctx, evt)
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}
