package watchparty

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trongtinIUH/watchparty-sdk-go/watchparty/rest"
)

// Session owns the canonical client-side state of one room: membership, the
// chat log, the playback snapshot, measured latency and the host flag. It
// translates inbound wire events into state transitions and outbound intents
// into transport publishes, and runs the heartbeat loop while connected.
//
// One Session serves one room visit. Tear it down with Disconnect; open
// sockets and timers are never collected implicitly.
type Session struct {
	cfg    Config
	logger Logger
	roomID string

	mu             sync.Mutex
	transport      *Transport
	api            *rest.Client
	state          RoomState
	joined         bool // once per session; deliberately survives transient reconnects
	torndown       bool
	historyCursor  string
	hasMoreHistory bool
	lastPingSentAt time.Time
	awaitingPong   bool
	hbStop         chan struct{}
	subscribed     bool

	nowFn func() time.Time

	onRoomUpdate func(RoomState)
	onControl    func(WireEvent)
	onTeardown   func(reason string)
	onError      func(error)
	onState      func(StateEvent)
}

// NewSession constructs a session for the given room. A missing UserID in
// cfg is filled with a generated one. The session does not touch the network
// until Connect.
func NewSession(cfg Config, roomID string) *Session {
	cfg = cfg.withDefaults()
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	s := &Session{
		cfg:    cfg,
		logger: noopLogger{},
		roomID: roomID,
		nowFn:  time.Now,
		state:  RoomState{Sync: SyncSnapshot{PlaybackRate: 1}},
	}
	if cfg.APIBaseURL != "" {
		s.api = rest.NewClient(cfg.APIBaseURL)
		s.api.SetToken(cfg.Token)
	}
	return s
}

// SetLogger overrides the logger (optional). Call before Connect.
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// OnRoomUpdate registers a callback receiving a state snapshot after every
// reduction step.
func (s *Session) OnRoomUpdate(fn func(RoomState)) {
	s.mu.Lock()
	s.onRoomUpdate = fn
	s.mu.Unlock()
}

// OnControl registers the side-channel for playback-control events. The
// sync engine hangs off this callback.
func (s *Session) OnControl(fn func(WireEvent)) {
	s.mu.Lock()
	s.onControl = fn
	s.mu.Unlock()
}

// OnTeardown registers the callback invoked exactly once when the room is
// terminally closed (deleted or expired). The owning page is expected to
// navigate away.
func (s *Session) OnTeardown(fn func(reason string)) {
	s.mu.Lock()
	s.onTeardown = fn
	s.mu.Unlock()
}

// OnError registers a callback for non-terminal errors.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnStateChanged registers a callback for transport state transitions.
func (s *Session) OnStateChanged(fn func(StateEvent)) {
	s.mu.Lock()
	s.onState = fn
	if s.transport != nil {
		s.transport.OnStateChanged(fn)
	}
	s.mu.Unlock()
}

// UserID returns the local participant's identity.
func (s *Session) UserID() string { return s.cfg.UserID }

// IsHost reports whether the local participant currently holds host
// authority.
func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsHost
}

// Snapshot returns a copy of the current room state.
func (s *Session) Snapshot() RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// IsConnected reports whether the transport is currently connected.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	return tr != nil && tr.IsConnected()
}

// Connect establishes the broker connection and subscribes to the room's
// broadcast topic and the local user's private queue. On the first
// connection of the session it fetches initial member/history state and then
// emits a JOIN; on later reconnects it requests a fresh snapshot instead, so
// the room never sees a duplicate join.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.transport == nil {
		s.transport = NewTransport(s.cfg, s.logger)
		if s.onState != nil {
			s.transport.OnStateChanged(s.onState)
		}
	}
	tr := s.transport
	s.torndown = false
	s.mu.Unlock()

	return tr.Connect(LifecycleHandlers{
		OnConnect:    s.handleConnected,
		OnDisconnect: s.handleDisconnected,
		OnError:      s.handleTransportError,
	})
}

// Disconnect emits a best-effort LEAVE, stops the heartbeat, tears down the
// transport and resets the join guard. When the socket is already gone the
// leave is delivered through the out-of-band HTTP beacon instead.
func (s *Session) Disconnect() {
	s.mu.Lock()
	tr := s.transport
	api := s.api
	connected := tr != nil && tr.IsConnected()
	s.stopHeartbeatLocked()
	s.joined = false
	s.subscribed = false
	s.mu.Unlock()

	delivered := false
	if connected {
		// Synchronous write: Disconnect below would tear the socket down
		// before a queued frame could flush.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		delivered = tr.PublishSync(ctx, roomAction(s.roomID, actionLeave), s.intentEvent(EventLeave, nil)) == nil
		cancel()
	}
	if !delivered && api != nil {
		go api.SendLeaveBeacon(s.roomID, s.cfg.UserID)
	}
	if tr != nil {
		tr.Disconnect()
	}
}

// SendChat publishes a chat line. No-op while disconnected.
func (s *Session) SendChat(text string) {
	s.publish(actionChat, s.intentEvent(EventChat, ChatPayload{Text: text}))
}

// RequestPlay publishes a PLAY control intent stamped with the local clock.
func (s *Session) RequestPlay(positionMs int64) {
	s.publishControl(EventPlay, positionMs)
}

// RequestPause publishes a PAUSE control intent.
func (s *Session) RequestPause(positionMs int64) {
	s.publishControl(EventPause, positionMs)
}

// RequestSeek publishes a SEEK control intent.
func (s *Session) RequestSeek(positionMs int64) {
	s.publishControl(EventSeek, positionMs)
}

// LoadMoreHistory fetches the page of chat history before the current
// cursor and prepends it to the log. No-op when no page remains or no query
// API is configured.
func (s *Session) LoadMoreHistory(ctx context.Context) error {
	s.mu.Lock()
	api := s.api
	cursor := s.historyCursor
	hasMore := s.hasMoreHistory
	s.mu.Unlock()
	if api == nil || !hasMore || cursor == "" {
		return nil
	}

	page, err := api.GetMessages(ctx, s.roomID, s.cfg.HistoryPageSize, cursor)
	if err != nil {
		return WrapError(ErrorConnection, "load history", err)
	}

	s.mu.Lock()
	older := make([]ChatEntry, 0, len(page.Messages))
	for _, m := range page.Messages {
		older = append(older, chatEntryFromHistory(m))
	}
	s.state.Log = append(older, s.state.Log...)
	s.historyCursor = page.NextCursor
	s.hasMoreHistory = page.HasMore && page.NextCursor != ""
	s.mu.Unlock()

	s.emitRoomUpdate()
	return nil
}

func (s *Session) publish(action string, ev WireEvent) {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		s.logger.Warn("publish skipped, session not connected", map[string]any{"action": action})
		return
	}
	tr.Publish(roomAction(s.roomID, action), ev)
}

func (s *Session) publishControl(t EventType, positionMs int64) {
	s.mu.Lock()
	rate := s.state.Sync.PlaybackRate
	s.mu.Unlock()
	if rate <= 0 {
		rate = 1
	}
	s.publish(actionControl, s.intentEvent(t, ControlPayload{
		PositionMs:   positionMs,
		PlaybackRate: &rate,
		AtHostTimeMs: s.nowFn().UnixMilli(),
	}))
}

// intentEvent wraps a payload in the outbound envelope for this user.
func (s *Session) intentEvent(t EventType, payload any) WireEvent {
	ev := WireEvent{
		Type:       t,
		RoomID:     s.roomID,
		SenderID:   s.cfg.UserID,
		SenderName: s.cfg.UserName,
		AvatarURL:  s.cfg.AvatarURL,
		CreatedAt:  s.nowFn().UnixMilli(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

func (s *Session) handleConnected() {
	s.mu.Lock()
	if !s.subscribed {
		s.transport.Subscribe(roomTopic(s.roomID), s.handleEvent)
		s.transport.Subscribe(userQueue(s.cfg.UserID), s.handleEvent)
		s.subscribed = true
	}
	firstJoin := !s.joined
	if firstJoin {
		s.joined = true
	}
	s.state.Reconnecting = false
	s.startHeartbeatLocked()
	s.mu.Unlock()

	if firstJoin {
		s.seedInitialState()
		s.publish(actionJoin, s.intentEvent(EventJoin, nil))
	} else {
		// Ordering across the disconnect gap is not guaranteed; ask for
		// fresh MEMBER_LIST / SYNC_STATE snapshots instead of re-joining.
		s.publish(actionSyncRequest, s.intentEvent(EventSyncState, nil))
	}
	s.emitRoomUpdate()
}

func (s *Session) handleDisconnected(err error) {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	if err != nil {
		s.state.Reconnecting = true
	}
	s.mu.Unlock()
	if err != nil {
		s.emitRoomUpdate()
	}
}

func (s *Session) handleTransportError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// seedInitialState loads members, the newest history page and the current
// playback snapshot from the query API before the JOIN goes out. Failures
// are logged and tolerated; the room topic will fill the gaps.
func (s *Session) seedInitialState() {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()
	if api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	members, err := api.GetMembers(ctx, s.roomID)
	if err != nil {
		s.logger.Warn("initial member fetch failed", map[string]any{"error": err.Error()})
	}
	page, err := api.GetMessages(ctx, s.roomID, s.cfg.HistoryPageSize, "")
	if err != nil {
		s.logger.Warn("initial history fetch failed", map[string]any{"error": err.Error()})
	}
	roomState, err := api.GetRoomState(ctx, s.roomID)
	if err != nil {
		s.logger.Warn("initial room state fetch failed", map[string]any{"error": err.Error()})
	}

	s.mu.Lock()
	if members != nil {
		s.state.Members = make([]Member, 0, len(members.Members))
		for _, m := range members.Members {
			s.state.Members = append(s.state.Members, Member{
				UserID:       m.UserID,
				UserName:     m.UserName,
				AvatarURL:    m.AvatarURL,
				Role:         Role(m.Role),
				LastSeenAtMs: m.LastSeenAtMs,
			})
		}
		s.refreshHostLocked()
	}
	if page != nil {
		s.state.Log = make([]ChatEntry, 0, len(page.Messages))
		for _, m := range page.Messages {
			s.state.Log = append(s.state.Log, chatEntryFromHistory(m))
		}
		s.historyCursor = page.NextCursor
		s.hasMoreHistory = page.HasMore && page.NextCursor != ""
	}
	if roomState != nil {
		s.state.Sync = SyncSnapshot{
			Playing:      roomState.Playing,
			PositionMs:   roomState.PositionMs,
			PlaybackRate: roomState.PlaybackRate,
			ServerTimeMs: roomState.ServerTimeMs,
		}
		if s.state.Sync.PlaybackRate <= 0 {
			s.state.Sync.PlaybackRate = 1
		}
	}
	s.mu.Unlock()
}

// handleEvent is the reduction boundary: one wire event in, one state
// transition out. Control-class events additionally flow to the sync engine
// through the OnControl side-channel after the state merge.
func (s *Session) handleEvent(ev WireEvent) {
	var (
		forward  bool
		teardown bool
		reason   string
		errOut   error
	)

	s.mu.Lock()
	now := ev.CreatedAt
	if now == 0 {
		now = s.nowFn().UnixMilli()
	}

	switch ev.Type {
	case EventJoin:
		var p JoinPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			s.logger.Warn("bad JOIN payload", map[string]any{"error": err.Error()})
		}
		if m := s.state.findMember(ev.SenderID); m != nil {
			m.LastSeenAtMs = now
		} else {
			role := p.Role
			if role == "" {
				role = RoleMember
			}
			s.state.Members = append(s.state.Members, Member{
				UserID:       ev.SenderID,
				UserName:     ev.SenderName,
				AvatarURL:    ev.AvatarURL,
				Role:         role,
				LastSeenAtMs: now,
			})
			s.appendSystemLocked(displayName(ev)+" joined the room", now)
		}
		s.refreshHostLocked()

	case EventLeave:
		for i := range s.state.Members {
			if s.state.Members[i].UserID == ev.SenderID {
				s.state.Members = append(s.state.Members[:i], s.state.Members[i+1:]...)
				s.appendSystemLocked(displayName(ev)+" left the room", now)
				break
			}
		}
		s.refreshHostLocked()

	case EventMemberList:
		var p MemberListPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			s.logger.Warn("bad MEMBER_LIST payload", map[string]any{"error": err.Error()})
			break
		}
		// Authoritative snapshot: replace, never merge. This is the
		// recovery path after a reconnect gap.
		s.state.Members = p.Members
		s.refreshHostLocked()

	case EventChat:
		var p ChatPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			s.logger.Warn("bad CHAT payload", map[string]any{"error": err.Error()})
			break
		}
		s.state.Log = append(s.state.Log, ChatEntry{
			Kind:        EntryChat,
			SenderID:    ev.SenderID,
			SenderName:  ev.SenderName,
			Content:     p.Text,
			CreatedAtMs: now,
		})

	case EventPlay, EventPause, EventSeek:
		var p ControlPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			s.logger.Warn("bad control payload", map[string]any{"type": string(ev.Type), "error": err.Error()})
			break
		}
		s.state.Sync.PositionMs = p.PositionMs
		if p.PlaybackRate != nil && *p.PlaybackRate > 0 {
			s.state.Sync.PlaybackRate = *p.PlaybackRate
		}
		if p.AtHostTimeMs > 0 {
			s.state.Sync.ServerTimeMs = p.AtHostTimeMs
		}
		switch ev.Type {
		case EventPlay:
			s.state.Sync.Playing = true
		case EventPause:
			s.state.Sync.Playing = false
		}
		forward = true

	case EventSyncState:
		var p SyncStatePayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			s.logger.Warn("bad SYNC_STATE payload", map[string]any{"error": err.Error()})
			break
		}
		s.state.Sync.Playing = p.Playing
		s.state.Sync.PositionMs = p.PositionMs
		if p.PlaybackRate > 0 {
			s.state.Sync.PlaybackRate = p.PlaybackRate
		}
		if p.ServerTimeMs > 0 {
			s.state.Sync.ServerTimeMs = p.ServerTimeMs
		}
		forward = true

	case EventPong:
		if !s.lastPingSentAt.IsZero() {
			rtt := s.nowFn().Sub(s.lastPingSentAt)
			s.state.LatencyMs = int64(math.Round(float64(rtt.Microseconds()) / 2000))
		}
		s.awaitingPong = false

	case EventSystem:
		var p SystemPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			s.logger.Warn("bad SYSTEM payload", map[string]any{"error": err.Error()})
			break
		}
		s.appendSystemLocked(p.Text, now)

	case EventRoomDeleted:
		var p RoomDeletedPayload
		_ = DecodePayload(ev.Payload, &p)
		reason = p.Reason
		if reason == "" {
			reason = "deleted"
		}
		s.appendSystemLocked("room closed: "+reason, now)
		teardown = s.markTorndownLocked()

	case EventError:
		var p ErrorPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			s.logger.Warn("bad ERROR payload", map[string]any{"error": err.Error()})
			break
		}
		perr := FromErrorPayload(p)
		if IsTerminalRoomError(perr) {
			reason = perr.Message
			if reason == "" {
				reason = perr.Code.String()
			}
			s.appendSystemLocked("room closed: "+reason, now)
			teardown = s.markTorndownLocked()
		} else {
			errOut = perr
		}

	case EventPing:
		// Client-originated; a broker echoing it back carries nothing for us.

	default:
		s.logger.Warn("ignoring unknown event type", map[string]any{"type": string(ev.Type)})
		s.mu.Unlock()
		return
	}

	onControl := s.onControl
	onTeardown := s.onTeardown
	onError := s.onError
	tr := s.transport
	s.mu.Unlock()

	if forward && onControl != nil {
		onControl(ev)
	}
	if errOut != nil && onError != nil {
		onError(errOut)
	}
	if teardown {
		if tr != nil {
			tr.Disconnect()
		}
		if onTeardown != nil {
			onTeardown(reason)
		}
	}
	s.emitRoomUpdate()
}

// markTorndownLocked flips the session into its terminal state. Returns
// false when teardown already happened, so the callback fires exactly once.
func (s *Session) markTorndownLocked() bool {
	if s.torndown {
		return false
	}
	s.torndown = true
	s.joined = false
	s.stopHeartbeatLocked()
	return true
}

func (s *Session) appendSystemLocked(text string, atMs int64) {
	s.state.Log = append(s.state.Log, ChatEntry{
		Kind:        EntrySystem,
		Content:     text,
		CreatedAtMs: atMs,
	})
}

func (s *Session) refreshHostLocked() {
	s.state.IsHost = false
	if m := s.state.findMember(s.cfg.UserID); m != nil {
		s.state.IsHost = m.Role.IsHost()
	}
}

func (s *Session) emitRoomUpdate() {
	s.mu.Lock()
	fn := s.onRoomUpdate
	snapshot := s.state.clone()
	s.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

func (s *Session) startHeartbeatLocked() {
	if s.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	s.hbStop = stop
	go s.heartbeatLoop(stop)
}

func (s *Session) stopHeartbeatLocked() {
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	s.awaitingPong = false
}

func (s *Session) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.pingTick()
		case <-stop:
			return
		}
	}
}

func (s *Session) pingTick() {
	s.mu.Lock()
	tr := s.transport
	if s.cfg.PongTimeout > 0 && s.awaitingPong && s.nowFn().Sub(s.lastPingSentAt) >= s.cfg.PongTimeout {
		s.mu.Unlock()
		s.logger.Warn("heartbeat timed out", map[string]any{"room": s.roomID})
		if tr != nil {
			tr.dropConnection("heartbeat timeout")
		}
		return
	}
	now := s.nowFn()
	s.lastPingSentAt = now
	s.awaitingPong = true
	s.mu.Unlock()

	s.publish(actionPing, s.intentEvent(EventPing, PingPayload{SentAtMs: now.UnixMilli()}))
}

func displayName(ev WireEvent) string {
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return ev.SenderID
}

func chatEntryFromHistory(m rest.MessageInfo) ChatEntry {
	kind := EntryChat
	if m.Kind == string(EntrySystem) {
		kind = EntrySystem
	}
	return ChatEntry{
		Kind:        kind,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		CreatedAtMs: m.CreatedAtMs,
	}
}
