package models

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a room
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusStarting   Status = "starting"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusWaiting:    {StatusReady, StatusStarting, StatusCancelled},
	StatusReady:      {StatusWaiting, StatusStarting, StatusCancelled},
	StatusStarting:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusPaused, StatusFinished},
	StatusPaused:     {StatusInProgress, StatusFinished},
	StatusFinished:   nil,
	StatusCancelled:  nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsOpen reports whether the room still accepts membership changes
// (join, kick, delete). Only waiting and ready rooms are open.
func (s Status) IsOpen() bool {
	return s == StatusWaiting || s == StatusReady
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Settings are host-chosen match options
type Settings struct {
	AllowSpectators bool   `json:"allowSpectators"`
	ChatEnabled     bool   `json:"chatEnabled"`
	TimeLimit       int    `json:"timeLimit"` // Seconds per turn
	DifficultyLevel string `json:"difficultyLevel"`
}

// DefaultSettings returns the settings a room starts with.
func DefaultSettings() Settings {
	return Settings{
		AllowSpectators: false,
		ChatEnabled:     true,
		TimeLimit:       120,
		DifficultyLevel: "normal",
	}
}

// SettingsPatch carries optional overrides merged over DefaultSettings
type SettingsPatch struct {
	AllowSpectators *bool   `json:"allowSpectators,omitempty"`
	ChatEnabled     *bool   `json:"chatEnabled,omitempty"`
	TimeLimit       *int    `json:"timeLimit,omitempty" binding:"omitempty,min=0,max=3600"`
	DifficultyLevel *string `json:"difficultyLevel,omitempty" binding:"omitempty,oneof=easy normal hard"`
}

// Apply merges the non-nil fields of p over s.
func (p *SettingsPatch) Apply(s Settings) Settings {
	if p == nil {
		return s
	}
	if p.AllowSpectators != nil {
		s.AllowSpectators = *p.AllowSpectators
	}
	if p.ChatEnabled != nil {
		s.ChatEnabled = *p.ChatEnabled
	}
	if p.TimeLimit != nil {
		s.TimeLimit = *p.TimeLimit
	}
	if p.DifficultyLevel != nil {
		s.DifficultyLevel = *p.DifficultyLevel
	}
	return s
}

// Identity is what the external identity provider knows about a user
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	IsAnonymous bool   `json:"isAnonymous,omitempty"`
}

// Player is a member of a room. Players only exist inside their Room.
type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"` // In-game name chosen on join
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	IsHost      bool      `json:"isHost"`
	JoinedAt    time.Time `json:"joinedAt"`
	IsReady     bool      `json:"isReady"`
	IsAnonymous bool      `json:"isAnonymous,omitempty"`
}

// Refresh overwrites the profile fields of p from a rejoin. It reports
// whether anything changed. Host, ready and join time are kept.
func (p *Player) Refresh(name string, id Identity) bool {
	next := *p
	next.Name = name
	next.DisplayName = id.DisplayName
	next.Email = id.Email
	next.PhotoURL = id.PhotoURL
	next.IsAnonymous = id.IsAnonymous
	if next == *p {
		return false
	}
	*p = next
	return true
}

// Room is the single source of truth for one lobby
type Room struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	HostID     string    `json:"hostId"`
	Players    []Player  `json:"players"` // Join order; first entry is the creator
	MaxPlayers int       `json:"maxPlayers"`
	MinPlayers int       `json:"minPlayers"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	GameCode   string    `json:"gameCode"` // Short, shareable room code (e.g., "K7Q2ZD")
	Settings   Settings  `json:"settings"`
	Revision   int64     `json:"revision"` // Bumped by the store on every committed write
}

// Clone returns a deep copy of r.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = slices.Clone(r.Players)
	return &c
}

// PlayerIndex returns the position of the player with the given id, or -1.
func (r *Room) PlayerIndex(id string) int {
	return slices.IndexFunc(r.Players, func(p Player) bool { return p.ID == id })
}

// Player returns the player with the given id, or nil.
func (r *Room) Player(id string) *Player {
	if i := r.PlayerIndex(id); i >= 0 {
		return &r.Players[i]
	}
	return nil
}

// RemovePlayer drops the player with the given id. If they held the host
// role it passes to the earliest-joined remaining player. Reports whether
// the player was present.
func (r *Room) RemovePlayer(id string) bool {
	i := r.PlayerIndex(id)
	if i < 0 {
		return false
	}
	wasHost := r.Players[i].IsHost
	r.Players = slices.Delete(r.Players, i, i+1)
	if wasHost && len(r.Players) > 0 {
		r.Players[0].IsHost = true
		r.HostID = r.Players[0].ID
	}
	return true
}

func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

func (r *Room) HasQuorum() bool {
	return len(r.Players) >= r.MinPlayers
}

// AllReady reports whether every player is ready. An empty room is not.
func (r *Room) AllReady() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// CanStart reports whether the host may start the match now.
func (r *Room) CanStart() bool {
	return r.Status.IsOpen() && r.HasQuorum() && r.AllReady()
}

// ReconcileReadiness applies the waiting/ready boundary rule and reports
// whether the status changed. Statuses past ready are never touched.
func (r *Room) ReconcileReadiness() bool {
	satisfied := r.HasQuorum() && r.AllReady()
	switch {
	case r.Status == StatusWaiting && satisfied:
		r.Status = StatusReady
		return true
	case r.Status == StatusReady && !satisfied:
		r.Status = StatusWaiting
		return true
	}
	return false
}

// PlayerIDs returns the member ids in join order.
func (r *Room) PlayerIDs() []string {
	ids := make([]string, len(r.Players))
	for i, p := range r.Players {
		ids[i] = p.ID
	}
	return ids
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	RoomName   string         `json:"roomName" binding:"required,max=64"`
	PlayerName string         `json:"playerName" binding:"required,max=32"`
	MaxPlayers int            `json:"maxPlayers,omitempty" binding:"omitempty,min=2,max=16"`
	MinPlayers int            `json:"minPlayers,omitempty" binding:"omitempty,min=1,max=16"`
	Settings   *SettingsPatch `json:"settings,omitempty"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
	Room   *Room  `json:"room"`
}

// JoinRoomRequest carries the in-game name chosen when joining a room
type JoinRoomRequest struct {
	PlayerName string `json:"playerName" binding:"required,max=32"`
}

type ReadyRequest struct {
	Ready *bool `json:"ready" binding:"required"`
}

type KickRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
}
