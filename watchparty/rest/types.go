package rest

// MemberInfo is one participant as reported by the query API.
type MemberInfo struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Role         string `json:"role"`
	LastSeenAtMs int64  `json:"lastSeenAtMs"`
}

// MembersResponse is the current membership of a room.
type MembersResponse struct {
	Members []MemberInfo `json:"members"`
}

// MessageInfo is a single chat line in the history.
type MessageInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // CHAT or SYSTEM
	SenderID    string `json:"senderId,omitempty"`
	SenderName  string `json:"senderName,omitempty"`
	Content     string `json:"content"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// MessagesResponse contains one page of history, newest last, plus the
// opaque cursor for the page before it. An empty NextCursor means the
// beginning of history was reached.
type MessagesResponse struct {
	Messages   []MessageInfo `json:"messages"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// RoomStateResponse is the room's current video and playback state, used to
// seed the local snapshot before joining.
type RoomStateResponse struct {
	RoomID       string  `json:"roomId"`
	VideoURL     string  `json:"videoUrl,omitempty"`
	Playing      bool    `json:"playing"`
	PositionMs   int64   `json:"positionMs"`
	PlaybackRate float64 `json:"playbackRate"`
	ServerTimeMs int64   `json:"serverTimeMs"`
}

// LeaveBeacon is the request body for the out-of-band leave notification
// sent when the socket is already gone at teardown time.
type LeaveBeacon struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
