package models

// EventType identifies a frame pushed to room viewers over WebSocket
type EventType string

const (
	EventTypeSnapshot EventType = "room_snapshot"
	EventTypeDeleted  EventType = "room_deleted"
	EventTypeError    EventType = "error"
)

// RoomEvent is one frame on the room WebSocket. Snapshots always carry the
// full room, never a diff.
type RoomEvent struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId"`
	Room   *Room     `json:"room,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// SnapshotEvent wraps a fan-out delivery; a nil room means the room is gone.
func SnapshotEvent(roomID string, room *Room) RoomEvent {
	if room == nil {
		return RoomEvent{Type: EventTypeDeleted, RoomID: roomID}
	}
	return RoomEvent{Type: EventTypeSnapshot, RoomID: roomID, Room: room}
}
