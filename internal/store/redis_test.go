package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/lobby/internal/models"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRedisStore_UpdateRetriesAfterConcurrentWrite(t *testing.T) {
	_, client := newMiniredis(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRoom("r1", "CAS111", time.Now().UTC())))

	calls := 0
	got, err := s.Update(ctx, "r1", func(r *models.Room) (Outcome, error) {
		calls++
		if calls == 1 {
			// Another writer lands between our read and our EXEC
			_, err := s.Update(ctx, "r1", func(other *models.Room) (Outcome, error) {
				other.Players = append(other.Players, models.Player{ID: "racer", Name: "Racer"})
				return Save, nil
			})
			require.NoError(t, err)
		}
		r.Players = append(r.Players, models.Player{ID: "me", Name: "Me"})
		return Save, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"host-r1", "racer", "me"}, got.PlayerIDs())
	assert.Equal(t, int64(3), got.Revision)
}

func TestRedisStore_UpdateGivesUpAfterMaxRetries(t *testing.T) {
	_, client := newMiniredis(t)
	s := NewRedisStore(client, WithMaxRetries(2))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRoom("r1", "CAS222", time.Now().UTC())))

	_, err := s.Update(ctx, "r1", func(r *models.Room) (Outcome, error) {
		client.Set(ctx, roomKey("r1"), mustJSON(t, r), 0)
		return Save, nil
	})
	assert.ErrorIs(t, err, ErrContention)
}

func TestRedisStore_ListOpenDropsExpiredRooms(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRoom("r1", "EXP111", time.Now().UTC())))
	require.NoError(t, s.Create(ctx, sampleRoom("r2", "EXP222", time.Now().UTC())))

	mr.Del(roomKey("r1"))

	rooms, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r2", rooms[0].ID)

	members, err := mr.ZMembers(openRoomsKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, members)
}

func TestRedisStore_WritesRefreshTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedisStore(client, WithRoomTTL(time.Hour))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRoom("r1", "TTL111", time.Now().UTC())))

	mr.FastForward(30 * time.Minute)
	_, err := s.Update(ctx, "r1", func(r *models.Room) (Outcome, error) {
		r.Name = "touched"
		return Save, nil
	})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, mr.TTL(roomKey("r1")))
	assert.Equal(t, time.Hour, mr.TTL(codeKey("TTL111")))
}

func TestRedisStore_ConcurrentAppendsAreNotLost(t *testing.T) {
	_, client := newMiniredis(t)
	s := NewRedisStore(client, WithMaxRetries(100))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRoom("r1", "RACE11", time.Now().UTC())))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Update(ctx, "r1", func(r *models.Room) (Outcome, error) {
				r.Players = append(r.Players, models.Player{ID: string(rune('a' + n))})
				return Save, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Players, writers+1)
	assert.Equal(t, int64(writers+1), got.Revision)
}

func TestRedisStore_SubscribeReportsExpiry(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedisStore(client, WithRoomTTL(time.Hour), WithWatchInterval(20*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRoom("r1", "TTL111", time.Now().UTC())))

	changes, cancel, err := s.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer cancel()

	mr.FastForward(2 * time.Hour)

	assert.True(t, waitChange(t, changes).Deleted)
	_, ok := <-changes
	assert.False(t, ok)
}

func TestRedisStore_SubscribeEndsWhenConnectionLost(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedisStore(client)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRoom("r1", "NET111", time.Now().UTC())))

	changes, cancel, err := s.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer cancel()

	mr.Close()

	select {
	case c, ok := <-changes:
		require.False(t, ok, "expected the stream to end, got %+v", c)
	case <-time.After(2 * time.Second):
		t.Fatal("change stream still open after the connection dropped")
	}
}
