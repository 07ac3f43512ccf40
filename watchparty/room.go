package watchparty

// Role is a participant's authority level within a room.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleCoHost Role = "CO_HOST"
	RoleMember Role = "MEMBER"
)

// IsHost reports whether the role may drive room-wide playback.
func (r Role) IsHost() bool { return r == RoleOwner || r == RoleCoHost }

// EntryKind distinguishes user chat from server-generated lines.
type EntryKind string

const (
	EntryChat   EntryKind = "CHAT"
	EntrySystem EntryKind = "SYSTEM"
)

// Member is one participant, unique by UserID.
type Member struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Role         Role   `json:"role"`
	LastSeenAtMs int64  `json:"lastSeenAtMs"`
}

// ChatEntry is one line of the room log. The log is append-only and
// insertion-ordered; older pages may be prepended by history loads.
type ChatEntry struct {
	Kind        EntryKind `json:"kind"`
	SenderID    string    `json:"senderId,omitempty"`
	SenderName  string    `json:"senderName,omitempty"`
	Content     string    `json:"content"`
	CreatedAtMs int64     `json:"createdAtMs"`
}

// SyncSnapshot is the authoritative playback state at a point in time.
// PositionMs is only meaningful relative to ServerTimeMs; clients never
// trust their own wall clock alone.
type SyncSnapshot struct {
	Playing      bool    `json:"playing"`
	PositionMs   int64   `json:"positionMs"`
	PlaybackRate float64 `json:"playbackRate"`
	ServerTimeMs int64   `json:"serverTimeMs"`
}

// RoomState is the aggregate client-side view of a room, rebuilt
// incrementally from the wire event stream. After a reconnect the members
// and sync slices are re-derived from the next MEMBER_LIST / SYNC_STATE
// snapshot since ordering across the gap is not guaranteed.
type RoomState struct {
	Members      []Member
	Log          []ChatEntry
	Sync         SyncSnapshot
	LatencyMs    int64
	IsHost       bool
	Reconnecting bool
}

// clone returns a copy safe to hand to callbacks while the session keeps
// mutating its own state.
func (s RoomState) clone() RoomState {
	out := s
	out.Members = append([]Member(nil), s.Members...)
	out.Log = append([]ChatEntry(nil), s.Log...)
	return out
}

func (s *RoomState) findMember(userID string) *Member {
	for i := range s.Members {
		if s.Members[i].UserID == userID {
			return &s.Members[i]
		}
	}
	return nil
}
