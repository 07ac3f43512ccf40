package watchparty

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeMedia struct {
	mu           sync.Mutex
	currentTime  float64
	rate         float64
	muted        bool
	playing      bool
	playErr      error // returned while unmuted
	mutedPlayErr error // returned even when muted
	setTimeCalls []float64
}

func (m *fakeMedia) Play(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutedPlayErr != nil {
		return m.mutedPlayErr
	}
	if m.playErr != nil && !m.muted {
		return m.playErr
	}
	m.playing = true
	return nil
}

func (m *fakeMedia) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *fakeMedia) SetCurrentTime(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = seconds
	m.setTimeCalls = append(m.setTimeCalls, seconds)
}

func (m *fakeMedia) PlaybackRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rate == 0 {
		return 1
	}
	return m.rate
}

func (m *fakeMedia) SetPlaybackRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = rate
}

func (m *fakeMedia) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *fakeMedia) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

func (m *fakeMedia) timeCalls() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.setTimeCalls...)
}

func (m *fakeMedia) isPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

type fakeRoom struct {
	mu     sync.Mutex
	host   bool
	plays  []int64
	pauses []int64
	seeks  []int64
}

func (r *fakeRoom) IsHost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

func (r *fakeRoom) RequestPlay(positionMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plays = append(r.plays, positionMs)
}

func (r *fakeRoom) RequestPause(positionMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, positionMs)
}

func (r *fakeRoom) RequestSeek(positionMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeks = append(r.seeks, positionMs)
}

func (r *fakeRoom) intents() (plays, pauses, seeks []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.plays...), append([]int64(nil), r.pauses...), append([]int64(nil), r.seeks...)
}

func newTestEngine(room *fakeRoom, media *fakeMedia) *SyncEngine {
	cfg := DefaultConfig()
	cfg.EchoSuppressWindow = 40 * time.Millisecond
	cfg.ApplyRemoteSettle = 40 * time.Millisecond
	cfg.UnmuteDelay = 20 * time.Millisecond
	return NewSyncEngine(room, media, cfg)
}

func TestCompensatedPositionDeterminism(t *testing.T) {
	stamp := int64(1_000_000)
	for i := 0; i < 3; i++ {
		got := compensatedPositionMs(5000, stamp, stamp+200, 1, true)
		if got != 5200 {
			t.Fatalf("run %d: got %d, want 5200", i, got)
		}
	}
	// Rate scales the drift.
	if got := compensatedPositionMs(5000, stamp, stamp+200, 2, true); got != 5400 {
		t.Fatalf("got %d, want 5400", got)
	}
	// Paused snapshots and unstamped events pass through verbatim.
	if got := compensatedPositionMs(5000, stamp, stamp+200, 1, false); got != 5000 {
		t.Fatalf("got %d, want 5000", got)
	}
	if got := compensatedPositionMs(5000, 0, stamp, 1, true); got != 5000 {
		t.Fatalf("got %d, want 5000", got)
	}
}

func TestApplyRemotePlayCompensatesDrift(t *testing.T) {
	media := &fakeMedia{}
	e := newTestEngine(&fakeRoom{}, media)
	now := time.Now()
	e.nowFn = func() time.Time { return now }

	stamp := now.UnixMilli() - 200
	e.ApplyRemote(WireEvent{Type: EventPlay, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 5000, "atHostTimeMs": stamp, "playbackRate": 1})})

	calls := media.timeCalls()
	if len(calls) != 1 || calls[0] != 5.2 {
		t.Fatalf("timeCalls = %v, want [5.2]", calls)
	}
	if !media.isPlaying() {
		t.Fatalf("media not playing")
	}
}

func TestApplyRemotePauseIsVerbatim(t *testing.T) {
	media := &fakeMedia{playing: true}
	e := newTestEngine(&fakeRoom{}, media)

	e.ApplyRemote(WireEvent{Type: EventPause, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 7000, "atHostTimeMs": 1})})

	calls := media.timeCalls()
	if len(calls) != 1 || calls[0] != 7.0 {
		t.Fatalf("timeCalls = %v, want [7]", calls)
	}
	if media.isPlaying() {
		t.Fatalf("media still playing after remote pause")
	}
}

func TestApplyRemotePauseAppliesCarriedRate(t *testing.T) {
	media := &fakeMedia{playing: true, rate: 1}
	e := newTestEngine(&fakeRoom{}, media)

	e.ApplyRemote(WireEvent{Type: EventPause, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 7000, "atHostTimeMs": 1, "playbackRate": 1.5})})

	if got := media.PlaybackRate(); got != 1.5 {
		t.Fatalf("rate = %v, want 1.5", got)
	}
	if media.isPlaying() {
		t.Fatalf("media still playing after remote pause")
	}
}

func TestApplyRemoteSeekKeepsPlaybackState(t *testing.T) {
	media := &fakeMedia{playing: true}
	e := newTestEngine(&fakeRoom{}, media)

	e.ApplyRemote(WireEvent{Type: EventSeek, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 30000})})

	if !media.isPlaying() {
		t.Fatalf("seek must not toggle playback")
	}
	if calls := media.timeCalls(); len(calls) != 1 || calls[0] != 30.0 {
		t.Fatalf("timeCalls = %v, want [30]", calls)
	}
}

func TestSyncStateCompensatesOnlyWhilePlaying(t *testing.T) {
	media := &fakeMedia{}
	e := newTestEngine(&fakeRoom{}, media)
	now := time.Now()
	e.nowFn = func() time.Time { return now }
	server := now.UnixMilli() - 500

	e.ApplyRemote(WireEvent{Type: EventSyncState, RoomID: "r1",
		Payload: rawPayload(t, SyncStatePayload{Playing: false, PositionMs: 10000, PlaybackRate: 1, ServerTimeMs: server})})
	if calls := media.timeCalls(); calls[len(calls)-1] != 10.0 {
		t.Fatalf("paused resync compensated: %v", calls)
	}
	if media.isPlaying() {
		t.Fatalf("paused resync started playback")
	}

	time.Sleep(60 * time.Millisecond) // let the settle window lapse
	e.ApplyRemote(WireEvent{Type: EventSyncState, RoomID: "r1",
		Payload: rawPayload(t, SyncStatePayload{Playing: true, PositionMs: 10000, PlaybackRate: 1, ServerTimeMs: server})})
	calls := media.timeCalls()
	if calls[len(calls)-1] != 10.5 {
		t.Fatalf("playing resync not compensated: %v", calls)
	}
	if !media.isPlaying() {
		t.Fatalf("playing resync did not start playback")
	}
}

func TestEchoSuppressionAppliesIntentOnce(t *testing.T) {
	media := &fakeMedia{currentTime: 42}
	room := &fakeRoom{host: true}
	e := newTestEngine(room, media)

	e.HandleLocalSeeked()
	_, _, seeks := room.intents()
	if len(seeks) != 1 || seeks[0] != 42000 {
		t.Fatalf("seek intent = %v, want [42000]", seeks)
	}

	// The echo of our own seek arrives inside the window: dropped.
	e.ApplyRemote(WireEvent{Type: EventSeek, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 42000})})
	if calls := media.timeCalls(); len(calls) != 0 {
		t.Fatalf("echo was applied: %v", calls)
	}

	// After the window a genuine remote seek applies normally.
	time.Sleep(80 * time.Millisecond)
	e.ApplyRemote(WireEvent{Type: EventSeek, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 90000})})
	if calls := media.timeCalls(); len(calls) != 1 || calls[0] != 90.0 {
		t.Fatalf("genuine seek not applied: %v", calls)
	}
}

func TestNonHostPublishesNoIntents(t *testing.T) {
	media := &fakeMedia{currentTime: 10, playing: true}
	room := &fakeRoom{host: false}
	e := newTestEngine(room, media)

	e.HandleLocalPause()
	e.HandleLocalPlay()
	e.HandleLocalSeeked()

	plays, pauses, seeks := room.intents()
	if len(plays)+len(pauses)+len(seeks) != 0 {
		t.Fatalf("non-host published intents: %v %v %v", plays, pauses, seeks)
	}
}

func TestApplyingRemoteMasksInducedLocalEvents(t *testing.T) {
	media := &fakeMedia{}
	room := &fakeRoom{host: true}
	e := newTestEngine(room, media)

	e.ApplyRemote(WireEvent{Type: EventPlay, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 1000})})
	// The surface fires its play event as a consequence of the remote
	// application; the observer must not re-publish it.
	e.HandleLocalPlay()

	plays, _, _ := room.intents()
	if len(plays) != 0 {
		t.Fatalf("remote-induced play was republished: %v", plays)
	}
}

func TestAutoplayBlockedFallsBackMuted(t *testing.T) {
	media := &fakeMedia{playErr: NewError(ErrorAutoplayBlocked, "gesture required")}
	e := newTestEngine(&fakeRoom{}, media)
	var mu sync.Mutex
	var notices []Notice
	e.OnNotice(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	e.ApplyRemote(WireEvent{Type: EventPlay, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 0})})

	if !media.isPlaying() || !media.Muted() {
		t.Fatalf("expected muted playback, playing=%v muted=%v", media.isPlaying(), media.Muted())
	}
	mu.Lock()
	first := append([]Notice(nil), notices...)
	mu.Unlock()
	if len(first) != 1 || first[0] != NoticeAutoplayMuted {
		t.Fatalf("notices = %v, want [autoplay_muted]", first)
	}

	time.Sleep(80 * time.Millisecond)
	if media.Muted() {
		t.Fatalf("still muted after unmute delay")
	}
	mu.Lock()
	last := notices[len(notices)-1]
	mu.Unlock()
	if last != NoticeUnmuted {
		t.Fatalf("missing unmuted notice, got %v", notices)
	}
}

func TestAutoplayFailureEvenMuted(t *testing.T) {
	media := &fakeMedia{mutedPlayErr: NewError(ErrorAutoplayBlocked, "gesture required")}
	e := newTestEngine(&fakeRoom{}, media)
	var notices []Notice
	e.OnNotice(func(n Notice) { notices = append(notices, n) })

	e.ApplyRemote(WireEvent{Type: EventPlay, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 0})})

	if media.isPlaying() {
		t.Fatalf("media playing despite rejection")
	}
	if len(notices) != 1 || notices[0] != NoticePlaybackError {
		t.Fatalf("notices = %v, want [playback_error]", notices)
	}
}

func TestCloseStopsEngine(t *testing.T) {
	media := &fakeMedia{}
	room := &fakeRoom{host: true}
	e := newTestEngine(room, media)
	e.Close()

	e.ApplyRemote(WireEvent{Type: EventSeek, RoomID: "r1",
		Payload: rawPayload(t, map[string]any{"positionMs": 1000})})
	e.HandleLocalPlay()

	plays, _, _ := room.intents()
	if len(media.timeCalls()) != 0 || len(plays) != 0 {
		t.Fatalf("closed engine still active")
	}
}
