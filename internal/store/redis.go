package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mossy-p/lobby/internal/code"
	"github.com/mossy-p/lobby/internal/models"
)

const (
	openRoomsKey      = "rooms:open"
	defaultRoomTTL    = 24 * time.Hour
	defaultMaxRetries    = 16
	defaultWatchInterval = 10 * time.Second
	changeBuffer         = 64
)

func roomKey(id string) string       { return "room:" + id }
func codeKey(gameCode string) string { return "code:" + gameCode }
func eventsChannel(id string) string { return "room:" + id + ":events" }

// RedisStore keeps each room as a JSON document at room:<id>. The code
// index lives at code:<CODE>, open rooms in the rooms:open sorted set scored
// by creation time, and every committed write is published on
// room:<id>:events inside the same MULTI/EXEC as the write.
type RedisStore struct {
	client        *redis.Client
	ttl           time.Duration
	maxRetries    int
	watchInterval time.Duration
	log           zerolog.Logger
}

type RedisOption func(*RedisStore)

// WithRoomTTL sets how long an untouched room survives. Every write
// refreshes it.
func WithRoomTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxRetries bounds compare-and-swap retries per Update.
func WithMaxRetries(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithWatchInterval sets how long a room stream may sit idle before it
// checks whether the room expired. Expiry publishes nothing, so this bounds
// how late subscribers learn about it.
func WithWatchInterval(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.watchInterval = d
		}
	}
}

func WithLogger(log zerolog.Logger) RedisOption {
	return func(s *RedisStore) { s.log = log }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:        client,
		ttl:           defaultRoomTTL,
		maxRetries:    defaultMaxRetries,
		watchInterval: defaultWatchInterval,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Create(ctx context.Context, room *models.Room) error {
	room.Revision = 1
	roomData, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}

	// Claim the code first; SETNX is the uniqueness check
	claimed, err := s.client.SetNX(ctx, codeKey(room.GameCode), room.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim game code: %w", err)
	}
	if !claimed {
		return ErrConflict
	}

	event, err := json.Marshal(Change{Room: room})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), roomData, s.ttl)
		if room.Status.IsOpen() {
			pipe.ZAdd(ctx, openRoomsKey, redis.Z{Score: score(room), Member: room.ID})
		}
		pipe.Publish(ctx, eventsChannel(room.ID), event)
		return nil
	})
	if err != nil {
		s.client.Del(ctx, codeKey(room.GameCode))
		return fmt.Errorf("store room: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Room, error) {
	data, err := s.client.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return decodeRoom(data)
}

func (s *RedisStore) FindByCode(ctx context.Context, gameCode string) (*models.Room, error) {
	id, err := s.client.Get(ctx, codeKey(code.Normalize(gameCode))).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup game code: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) ListOpen(ctx context.Context) ([]*models.Room, error) {
	ids, err := s.client.ZRevRange(ctx, openRoomsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list open rooms: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load open rooms: %w", err)
	}

	rooms := make([]*models.Room, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired by TTL without going through Update
			stale = append(stale, ids[i])
			continue
		}
		room, err := decodeRoom([]byte(raw))
		if err != nil {
			s.log.Warn().Err(err).Str("roomId", ids[i]).Msg("skipping undecodable room")
			continue
		}
		if room.Status.IsOpen() {
			rooms = append(rooms, room)
		}
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, openRoomsKey, stale...)
	}
	return rooms, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, m Mutation) (*models.Room, error) {
	key := roomKey(id)
	var result *models.Room

	txf := func(tx *redis.Tx) error {
		result = nil
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get room: %w", err)
		}
		current, err := decodeRoom(data)
		if err != nil {
			return err
		}

		next := current.Clone()
		outcome, err := m(next)
		if err != nil {
			return err
		}

		switch outcome {
		case Save:
			next.ID = current.ID
			next.Revision = current.Revision + 1
			if err := s.commitSave(ctx, tx, current, next); err != nil {
				return err
			}
			result = next
		case Remove:
			if err := s.commitRemove(ctx, tx, current); err != nil {
				return err
			}
		default:
			result = current
		}
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug().Str("roomId", id).Int("attempt", attempt+1).Msg("room update raced, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrContention
}

func (s *RedisStore) commitSave(ctx context.Context, tx *redis.Tx, current, next *models.Room) error {
	roomData, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	event, err := json.Marshal(Change{Room: next})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(next.ID), roomData, s.ttl)
		pipe.Expire(ctx, codeKey(next.GameCode), s.ttl)
		if next.GameCode != current.GameCode {
			pipe.Del(ctx, codeKey(current.GameCode))
			pipe.Set(ctx, codeKey(next.GameCode), next.ID, s.ttl)
		}
		if next.Status.IsOpen() {
			pipe.ZAdd(ctx, openRoomsKey, redis.Z{Score: score(next), Member: next.ID})
		} else {
			pipe.ZRem(ctx, openRoomsKey, next.ID)
		}
		pipe.Publish(ctx, eventsChannel(next.ID), event)
		return nil
	})
	return err
}

func (s *RedisStore) commitRemove(ctx context.Context, tx *redis.Tx, current *models.Room) error {
	event, err := json.Marshal(Change{Deleted: true})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(current.ID), codeKey(current.GameCode))
		pipe.ZRem(ctx, openRoomsKey, current.ID)
		pipe.Publish(ctx, eventsChannel(current.ID), event)
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.Update(ctx, id, func(*models.Room) (Outcome, error) {
		return Remove, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Subscribe relays room:<id>:events. The stream also ends with a Deleted
// change when the room key is found expired, and ends without one as soon as
// the pub/sub connection fails: go-redis would resubscribe on its own, but
// whatever was published while it was away is gone.
func (s *RedisStore) Subscribe(ctx context.Context, id string) (<-chan Change, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(ctx, eventsChannel(id))

	// Wait for the subscription to be confirmed so no commit after this
	// call returns can be missed
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to room %s: %w", id, err)
	}

	// Receive does not watch ctx; closing the connection unblocks it
	stopClose := context.AfterFunc(ctx, func() { pubsub.Close() })

	out := make(chan Change, changeBuffer)
	go func() {
		defer close(out)
		defer stopClose()
		defer pubsub.Close()
		log := s.log.With().Str("roomId", id).Logger()

		for {
			change, ok := s.nextChange(ctx, pubsub, id, log)
			if !ok {
				return
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
			if change.Deleted {
				return
			}
		}
	}()

	return out, cancel, nil
}

// nextChange blocks until the next change for the room. It reports false
// once the stream has to end without one.
func (s *RedisStore) nextChange(ctx context.Context, pubsub *redis.PubSub, id string, log zerolog.Logger) (Change, bool) {
	for {
		msg, err := pubsub.ReceiveTimeout(ctx, s.watchInterval)
		if ctx.Err() != nil {
			return Change{}, false
		}

		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			n, err := s.client.Exists(ctx, roomKey(id)).Result()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("room change stream lost")
				}
				return Change{}, false
			}
			if n == 0 {
				log.Info().Msg("room expired")
				return Change{Deleted: true}, true
			}
			continue
		case err != nil:
			log.Warn().Err(err).Msg("room change stream lost")
			return Change{}, false
		}

		switch m := msg.(type) {
		case *redis.Message:
			var change Change
			if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
				log.Warn().Err(err).Msg("dropping malformed room change")
				continue
			}
			return change, true
		case *redis.Subscription:
			// Only the first confirmation is expected; another one means
			// the connection was re-established.
			log.Warn().Str("kind", m.Kind).Msg("room change stream reconnected")
			return Change{}, false
		}
	}
}

func decodeRoom(data []byte) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	return &room, nil
}

func score(room *models.Room) float64 {
	return float64(room.CreatedAt.UnixMilli())
}
