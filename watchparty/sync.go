package watchparty

import (
	"context"
	"sync"
	"time"
)

// MediaSurface is the controllable media capability the sync engine drives.
// The embedding player chrome implements it over its video element and calls
// the engine's HandleLocal* methods when the element emits play, pause or
// seeked events.
type MediaSurface interface {
	Play(ctx context.Context) error
	Pause()
	CurrentTime() float64 // seconds
	SetCurrentTime(seconds float64)
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	Muted() bool
	SetMuted(muted bool)
}

// RoomControl is the slice of the session the engine publishes through.
type RoomControl interface {
	IsHost() bool
	RequestPlay(positionMs int64)
	RequestPause(positionMs int64)
	RequestSeek(positionMs int64)
}

// Notice is a UI-facing playback notification.
type Notice string

const (
	// NoticeAutoplayMuted: playback was rejected by autoplay policy and
	// restarted muted.
	NoticeAutoplayMuted Notice = "autoplay_muted"
	// NoticeUnmuted: the muted fallback has been lifted.
	NoticeUnmuted Notice = "unmuted"
	// NoticePlaybackError: playback failed even muted; a user gesture is
	// required.
	NoticePlaybackError Notice = "playback_error"
)

// SyncEngine keeps the local media surface in agreement with the room's
// authoritative playback state while breaking the feedback loop between
// locally-originated and remotely-applied changes.
//
// Two named flags coordinate reentry on the event path:
//
//	applyingRemote — set while a remote event is being applied, so media
//	events it triggers are not mistaken for user actions; cleared by a
//	short settle timer bridging the surface's asynchronous event emission.
//
//	suppressEcho — set when a local control intent is published, so the
//	echoed copy arriving back within the window is not reapplied; cleared
//	by its own timer.
type SyncEngine struct {
	room   RoomControl
	media  MediaSurface
	cfg    Config
	logger Logger

	mu             sync.Mutex
	applyingRemote bool
	suppressEcho   bool
	settleTimer    *time.Timer
	echoTimer      *time.Timer
	unmuteTimer    *time.Timer
	closed         bool

	nowFn    func() time.Time
	onNotice func(Notice)
}

// NewSyncEngine constructs an engine driving media on behalf of room.
// Wire it up with session.OnControl(engine.ApplyRemote).
func NewSyncEngine(room RoomControl, media MediaSurface, cfg Config) *SyncEngine {
	return &SyncEngine{
		room:   room,
		media:  media,
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
		nowFn:  time.Now,
	}
}

// SetLogger overrides the logger (optional).
func (e *SyncEngine) SetLogger(l Logger) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.logger = l
	e.mu.Unlock()
}

// OnNotice registers a callback for UI-facing playback notices.
func (e *SyncEngine) OnNotice(fn func(Notice)) {
	e.mu.Lock()
	e.onNotice = fn
	e.mu.Unlock()
}

// Close stops all engine timers. The media surface is left as-is.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	e.closed = true
	for _, t := range []*time.Timer{e.settleTimer, e.echoTimer, e.unmuteTimer} {
		if t != nil {
			t.Stop()
		}
	}
	e.applyingRemote = false
	e.suppressEcho = false
	e.mu.Unlock()
}

// ApplyRemote applies one inbound control event to the media surface,
// compensating moving positions for the network time elapsed since the
// event was stamped. Events arriving inside the echo-suppression window are
// presumed to be echoes of this client's own intent and dropped.
func (e *SyncEngine) ApplyRemote(ev WireEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.suppressEcho {
		e.mu.Unlock()
		e.logger.Debug("dropping echoed control event", map[string]any{"type": string(ev.Type)})
		return
	}
	e.applyingRemote = true
	e.armSettleLocked()
	e.mu.Unlock()

	nowMs := e.nowFn().UnixMilli()
	switch ev.Type {
	case EventPlay:
		var p ControlPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			e.logger.Warn("bad PLAY payload", map[string]any{"error": err.Error()})
			return
		}
		rate := e.rateOr(p.PlaybackRate)
		target := compensatedPositionMs(p.PositionMs, p.AtHostTimeMs, nowMs, rate, true)
		e.media.SetCurrentTime(float64(target) / 1000)
		e.media.SetPlaybackRate(rate)
		e.startPlayback()

	case EventPause:
		var p ControlPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			e.logger.Warn("bad PAUSE payload", map[string]any{"error": err.Error()})
			return
		}
		// Pause is an instantaneous intent; the stamped position applies
		// verbatim.
		e.media.SetCurrentTime(float64(p.PositionMs) / 1000)
		if p.PlaybackRate != nil && *p.PlaybackRate > 0 {
			e.media.SetPlaybackRate(*p.PlaybackRate)
		}
		e.media.Pause()

	case EventSeek:
		var p ControlPayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			e.logger.Warn("bad SEEK payload", map[string]any{"error": err.Error()})
			return
		}
		e.media.SetCurrentTime(float64(p.PositionMs) / 1000)

	case EventSyncState:
		var p SyncStatePayload
		if err := DecodePayload(ev.Payload, &p); err != nil {
			e.logger.Warn("bad SYNC_STATE payload", map[string]any{"error": err.Error()})
			return
		}
		rate := p.PlaybackRate
		if rate <= 0 {
			rate = e.rateOr(nil)
		}
		target := compensatedPositionMs(p.PositionMs, p.ServerTimeMs, nowMs, rate, p.Playing)
		e.media.SetCurrentTime(float64(target) / 1000)
		e.media.SetPlaybackRate(rate)
		if p.Playing {
			e.startPlayback()
		} else {
			e.media.Pause()
		}
	}
}

// HandleLocalPlay reports a play event observed on the local media surface.
func (e *SyncEngine) HandleLocalPlay() { e.handleLocal(EventPlay) }

// HandleLocalPause reports a pause event observed on the local media
// surface.
func (e *SyncEngine) HandleLocalPause() { e.handleLocal(EventPause) }

// HandleLocalSeeked reports a seeked event observed on the local media
// surface.
func (e *SyncEngine) HandleLocalSeeked() { e.handleLocal(EventSeek) }

func (e *SyncEngine) handleLocal(t EventType) {
	e.mu.Lock()
	if e.closed || e.applyingRemote {
		// Triggered by our own remote application, not the user.
		e.mu.Unlock()
		return
	}
	if !e.room.IsHost() {
		// Non-hosts may pause or resume locally for personal catch-up;
		// nothing is published. A non-host seek is not propagated either.
		e.mu.Unlock()
		return
	}
	e.armEchoLocked()
	e.mu.Unlock()

	positionMs := int64(e.media.CurrentTime() * 1000)
	switch t {
	case EventPlay:
		e.room.RequestPlay(positionMs)
	case EventPause:
		e.room.RequestPause(positionMs)
	case EventSeek:
		e.room.RequestSeek(positionMs)
	}
}

// startPlayback attempts to start the surface, falling back to muted
// playback when autoplay policy rejects the audible attempt.
func (e *SyncEngine) startPlayback() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.media.Play(ctx); err == nil {
		return
	}
	e.media.SetMuted(true)
	if err := e.media.Play(ctx); err != nil {
		e.media.Pause()
		e.logger.Warn("playback rejected even muted", map[string]any{"error": err.Error()})
		e.notify(NoticePlaybackError)
		return
	}
	e.notify(NoticeAutoplayMuted)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.unmuteTimer != nil {
		e.unmuteTimer.Stop()
	}
	e.unmuteTimer = time.AfterFunc(e.cfg.UnmuteDelay, func() {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}
		e.media.SetMuted(false)
		e.notify(NoticeUnmuted)
	})
	e.mu.Unlock()
}

func (e *SyncEngine) armSettleLocked() {
	if e.settleTimer != nil {
		e.settleTimer.Stop()
	}
	e.settleTimer = time.AfterFunc(e.cfg.ApplyRemoteSettle, func() {
		e.mu.Lock()
		e.applyingRemote = false
		e.mu.Unlock()
	})
}

func (e *SyncEngine) armEchoLocked() {
	e.suppressEcho = true
	if e.echoTimer != nil {
		e.echoTimer.Stop()
	}
	e.echoTimer = time.AfterFunc(e.cfg.EchoSuppressWindow, func() {
		e.mu.Lock()
		e.suppressEcho = false
		e.mu.Unlock()
	})
}

func (e *SyncEngine) notify(n Notice) {
	e.mu.Lock()
	fn := e.onNotice
	e.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (e *SyncEngine) rateOr(p *float64) float64 {
	if p != nil && *p > 0 {
		return *p
	}
	if r := e.media.PlaybackRate(); r > 0 {
		return r
	}
	return 1
}

// compensatedPositionMs estimates the true current position of a moving
// stream: the stamped position plus the elapsed network time, scaled by the
// playback rate. Pause and seek positions (moving=false) and unstamped
// events pass through verbatim.
func compensatedPositionMs(positionMs, stampMs, nowMs int64, rate float64, moving bool) int64 {
	if !moving || stampMs <= 0 {
		return positionMs
	}
	return positionMs + int64(float64(nowMs-stampMs)*rate)
}
