package watchparty

import "encoding/json"

// EventType discriminates the payload shape of a WireEvent.
type EventType string

const (
	EventJoin        EventType = "JOIN"
	EventLeave       EventType = "LEAVE"
	EventChat        EventType = "CHAT"
	EventPlay        EventType = "PLAY"
	EventPause       EventType = "PAUSE"
	EventSeek        EventType = "SEEK"
	EventSyncState   EventType = "SYNC_STATE"
	EventMemberList  EventType = "MEMBER_LIST"
	EventPing        EventType = "PING"
	EventPong        EventType = "PONG"
	EventSystem      EventType = "SYSTEM"
	EventRoomDeleted EventType = "ROOM_DELETED"
	EventError       EventType = "ERROR"
)

// WireEvent is the envelope for every message on the broker, in both
// directions. Type fully determines the shape of Payload; an unknown Type is
// logged and ignored by the session, never fatal.
type WireEvent struct {
	Type       EventType       `json:"type"`
	RoomID     string          `json:"roomId"`
	SenderID   string          `json:"senderId,omitempty"`
	SenderName string          `json:"senderName,omitempty"`
	AvatarURL  string          `json:"avatarUrl,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  int64           `json:"createdAt,omitempty"` // unix ms
}

// IsControl reports whether the event belongs to the playback-control class
// forwarded to the sync engine.
func (e WireEvent) IsControl() bool {
	switch e.Type {
	case EventPlay, EventPause, EventSeek, EventSyncState:
		return true
	default:
		return false
	}
}

// JoinPayload accompanies a JOIN broadcast.
type JoinPayload struct {
	Role Role `json:"role,omitempty"`
}

// ChatPayload carries one chat line.
type ChatPayload struct {
	Text string `json:"text"`
}

// ControlPayload accompanies PLAY, PAUSE and SEEK. PlaybackRate is a pointer
// so an absent field merges with, rather than resets, the current snapshot.
// AtHostTimeMs is the host clock at the instant the intent was issued; zero
// means unstamped.
type ControlPayload struct {
	PositionMs   int64    `json:"positionMs"`
	PlaybackRate *float64 `json:"playbackRate,omitempty"`
	AtHostTimeMs int64    `json:"atHostTimeMs,omitempty"`
}

// SyncStatePayload is the authoritative full-resync snapshot delivered on the
// private queue, typically right after a (re)connect.
type SyncStatePayload struct {
	Playing      bool    `json:"playing"`
	PositionMs   int64   `json:"positionMs"`
	PlaybackRate float64 `json:"playbackRate"`
	ServerTimeMs int64   `json:"serverTimeMs"`
}

// MemberListPayload replaces the entire member list.
type MemberListPayload struct {
	Members []Member `json:"members"`
}

// PingPayload carries the sender clock so the broker can echo it back.
type PingPayload struct {
	SentAtMs int64 `json:"sentAtMs"`
}

// PongPayload echoes the ping timestamp.
type PongPayload struct {
	EchoSentAtMs int64 `json:"echoSentAtMs"`
}

// SystemPayload carries a server-generated log line.
type SystemPayload struct {
	Text string `json:"text"`
}

// RoomDeletedPayload explains a terminal room shutdown.
type RoomDeletedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is a targeted protocol error on the private queue.
type ErrorPayload struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// DecodePayload unmarshals an event payload into target.
func DecodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
