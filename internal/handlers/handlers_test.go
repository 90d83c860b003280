package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/lobby/config"
	"github.com/mossy-p/lobby/internal/code"
	"github.com/mossy-p/lobby/internal/fanout"
	"github.com/mossy-p/lobby/internal/lobby"
	"github.com/mossy-p/lobby/internal/middleware"
	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	router *gin.Engine
	store  *store.MemoryStore
	h      *Handler
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	hub := fanout.NewHub(st, 8, zerolog.Nop())
	t.Cleanup(hub.Close)

	cfg := &config.Config{
		Environment:    "test",
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
	}
	for _, m := range mutate {
		m(cfg)
	}

	h := NewHandler(lobby.NewService(st), hub, zerolog.Nop())
	return &testEnv{router: NewRouter(cfg, h), store: st, h: h}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, middleware.Claims{UserID: userID, Name: "User " + userID}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

// do sends a request as user; an empty user sends no Authorization header.
func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", bearer(t, user))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code lobby.Code) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, string(code), decode[errorBody](t, rec).Code)
}

func (e *testEnv) createRoom(t *testing.T, host string, body gin.H) models.CreateRoomResponse {
	t.Helper()
	if body == nil {
		body = gin.H{"roomName": "Friday night", "playerName": "Host"}
	}
	rec := e.do(t, http.MethodPost, "/api/rooms", host, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.CreateRoomResponse](t, rec)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestHealth_StoreDown(t *testing.T) {
	e := newTestEnv(t)
	WithHealthCheck(func(context.Context) error { return errors.New("connection refused") })(e.h)

	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateRoom_RequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/rooms", "", gin.H{"roomName": "R", "playerName": "P"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndLookUpRoom(t *testing.T) {
	e := newTestEnv(t)
	created := e.createRoom(t, "host", gin.H{
		"roomName":   "Friday night",
		"playerName": "Ada",
		"maxPlayers": 8,
		"settings":   gin.H{"difficultyLevel": "hard"},
	})

	assert.True(t, code.Valid(created.Code))
	assert.Equal(t, created.RoomID, created.Room.ID)
	assert.Equal(t, 8, created.Room.MaxPlayers)
	assert.Equal(t, "hard", created.Room.Settings.DifficultyLevel)
	assert.Equal(t, "User host", created.Room.Players[0].DisplayName)

	rec := e.do(t, http.MethodGet, "/api/rooms/code/"+strings.ToLower(created.Code), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.RoomID, decode[models.Room](t, rec).ID)

	rec = e.do(t, http.MethodGet, "/api/rooms/"+created.RoomID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "host", decode[models.Room](t, rec).HostID)

	rec = e.do(t, http.MethodGet, "/api/rooms", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Rooms []models.Room `json:"rooms"`
	}](t, rec)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, created.RoomID, list.Rooms[0].ID)
}

func TestCreateRoom_InvalidBody(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/rooms", "host", gin.H{"playerName": "Ada"})
	requireError(t, rec, http.StatusBadRequest, lobby.CodeInvalidArgument)

	rec = e.do(t, http.MethodPost, "/api/rooms", "host", gin.H{
		"roomName": "R", "playerName": "Ada", "settings": gin.H{"difficultyLevel": "nightmare"},
	})
	requireError(t, rec, http.StatusBadRequest, lobby.CodeInvalidArgument)

	rec = e.do(t, http.MethodPost, "/api/rooms", "host", gin.H{"roomName": "   ", "playerName": "Ada"})
	requireError(t, rec, http.StatusBadRequest, lobby.CodeInvalidArgument)
}

func TestGetRoom_NotFound(t *testing.T) {
	e := newTestEnv(t)
	requireError(t, e.do(t, http.MethodGet, "/api/rooms/missing", "", nil), http.StatusNotFound, lobby.CodeNotFound)
	requireError(t, e.do(t, http.MethodGet, "/api/rooms/code/ZZZZZZ", "", nil), http.StatusNotFound, lobby.CodeNotFound)
}

func TestRoomLifecycle(t *testing.T) {
	e := newTestEnv(t)
	created := e.createRoom(t, "host", nil)
	base := "/api/rooms/" + created.RoomID

	players := []string{"host"}
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("p%d", i)
		rec := e.do(t, http.MethodPost, base+"/join", id, gin.H{"playerName": "Player " + id})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		players = append(players, id)
	}

	requireError(t, e.do(t, http.MethodPost, base+"/start", "host", nil), http.StatusConflict, lobby.CodeInvalidState)

	var room models.Room
	for _, id := range players {
		rec := e.do(t, http.MethodPost, base+"/ready", id, gin.H{"ready": true})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		room = decode[models.Room](t, rec)
	}
	assert.Equal(t, models.StatusReady, room.Status)

	requireError(t, e.do(t, http.MethodPost, base+"/start", "p1", nil), http.StatusForbidden, lobby.CodeForbidden)

	rec := e.do(t, http.MethodPost, base+"/start", "host", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusStarting, decode[models.Room](t, rec).Status)

	requireError(t, e.do(t, http.MethodPost, base+"/join", "late", gin.H{"playerName": "Late"}), http.StatusConflict, lobby.CodeInvalidState)
	requireError(t, e.do(t, http.MethodDelete, base, "host", nil), http.StatusConflict, lobby.CodeInvalidState)

	// A member can still refresh their entry
	rec = e.do(t, http.MethodPost, base+"/join", "p2", gin.H{"playerName": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decode[models.Room](t, rec)
	assert.True(t, refreshed.Player("p2").IsReady)
}

func TestJoinRoom_Full(t *testing.T) {
	e := newTestEnv(t)
	created := e.createRoom(t, "host", gin.H{"roomName": "Duel", "playerName": "Host", "maxPlayers": 2})
	base := "/api/rooms/" + created.RoomID

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/join", "p1", gin.H{"playerName": "One"}).Code)
	requireError(t, e.do(t, http.MethodPost, base+"/join", "p2", gin.H{"playerName": "Two"}), http.StatusConflict, lobby.CodeCapacityExceeded)
	requireError(t, e.do(t, http.MethodPost, "/api/rooms/missing/join", "p2", gin.H{"playerName": "Two"}), http.StatusNotFound, lobby.CodeNotFound)
}

func TestSetReady_RequiresFlag(t *testing.T) {
	e := newTestEnv(t)
	created := e.createRoom(t, "host", nil)

	rec := e.do(t, http.MethodPost, "/api/rooms/"+created.RoomID+"/ready", "host", gin.H{})
	requireError(t, rec, http.StatusBadRequest, lobby.CodeInvalidArgument)

	rec = e.do(t, http.MethodPost, "/api/rooms/"+created.RoomID+"/ready", "stranger", gin.H{"ready": true})
	requireError(t, rec, http.StatusNotFound, lobby.CodeNotFound)
}

func TestKickPlayer(t *testing.T) {
	e := newTestEnv(t)
	created := e.createRoom(t, "host", nil)
	base := "/api/rooms/" + created.RoomID
	for _, id := range []string{"p1", "p2"} {
		require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/join", id, gin.H{"playerName": id}).Code)
	}

	requireError(t, e.do(t, http.MethodPost, base+"/kick", "p1", gin.H{"playerId": "p2"}), http.StatusForbidden, lobby.CodeForbidden)
	requireError(t, e.do(t, http.MethodPost, base+"/kick", "host", gin.H{"playerId": "host"}), http.StatusBadRequest, lobby.CodeInvalidTarget)
	requireError(t, e.do(t, http.MethodPost, base+"/kick", "host", gin.H{"playerId": "ghost"}), http.StatusNotFound, lobby.CodeNotFound)
	requireError(t, e.do(t, http.MethodPost, base+"/kick", "host", gin.H{}), http.StatusBadRequest, lobby.CodeInvalidArgument)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/kick", "host", gin.H{"playerId": "p2"}).Code)
	rec := e.do(t, http.MethodGet, base, "", nil)
	kicked := decode[models.Room](t, rec)
	assert.Equal(t, []string{"host", "p1"}, kicked.PlayerIDs())
}

func TestLeaveRoom(t *testing.T) {
	e := newTestEnv(t)
	created := e.createRoom(t, "host", nil)
	base := "/api/rooms/" + created.RoomID

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/join", "p1", gin.H{"playerName": "One"}).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/leave", "host", nil).Code)

	room := decode[models.Room](t, e.do(t, http.MethodGet, base, "", nil))
	assert.Equal(t, "p1", room.HostID)
	assert.True(t, room.Players[0].IsHost)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/leave", "p1", nil).Code)
	requireError(t, e.do(t, http.MethodGet, base, "", nil), http.StatusNotFound, lobby.CodeNotFound)
	requireError(t, e.do(t, http.MethodGet, "/api/rooms/code/"+created.Code, "", nil), http.StatusNotFound, lobby.CodeNotFound)

	// Idempotent
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/leave", "p1", nil).Code)
}

func TestDeleteRoom(t *testing.T) {
	e := newTestEnv(t)
	created := e.createRoom(t, "host", nil)
	base := "/api/rooms/" + created.RoomID
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/join", "p1", gin.H{"playerName": "One"}).Code)

	requireError(t, e.do(t, http.MethodDelete, base, "p1", nil), http.StatusForbidden, lobby.CodeForbidden)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, base, "host", nil).Code)
	requireError(t, e.do(t, http.MethodGet, base, "", nil), http.StatusNotFound, lobby.CodeNotFound)
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "ada", "password": "x", "displayName": "Ada L"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LoginResponse](t, rec)
	assert.Equal(t, "ada", resp.UserID)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"roomName":"R","playerName":"Ada"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	player := decode[models.CreateRoomResponse](t, rec).Room.Players[0]
	assert.Equal(t, "ada", player.ID)
	assert.Equal(t, "Ada L", player.DisplayName)

	rec = e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "ada"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_NotMountedInProduction(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Environment = "production" })
	gin.SetMode(gin.TestMode)

	rec := e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "ada", "password": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFail_MapsErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{lobby.ErrRoomNotFound, http.StatusNotFound, "NOT_FOUND"},
		{lobby.ErrRoomFull, http.StatusConflict, "CAPACITY_EXCEEDED"},
		{lobby.ErrCodeExhausted, http.StatusServiceUnavailable, "CODE_EXHAUSTED"},
		{lobby.ErrInvalidTarget, http.StatusBadRequest, "INVALID_TARGET"},
		{fmt.Errorf("update room: %w", store.ErrContention), http.StatusServiceUnavailable, "CONTENTION"},
		{errors.New("redis: connection pool timeout"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			e.h.fail(c, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Error, "redis")
		})
	}
}

func TestOriginFilter(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
