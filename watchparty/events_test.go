package watchparty

import (
	"testing"
	"time"
)

func TestIsControl(t *testing.T) {
	control := []EventType{EventPlay, EventPause, EventSeek, EventSyncState}
	for _, et := range control {
		if !(WireEvent{Type: et}).IsControl() {
			t.Fatalf("%s should be control-class", et)
		}
	}
	for _, et := range []EventType{EventJoin, EventChat, EventPong, EventMemberList, EventRoomDeleted} {
		if (WireEvent{Type: et}).IsControl() {
			t.Fatalf("%s should not be control-class", et)
		}
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	var p ChatPayload
	if err := DecodePayload(nil, &p); err != nil {
		t.Fatalf("empty payload should decode to zero value: %v", err)
	}
	if p.Text != "" {
		t.Fatalf("unexpected text: %q", p.Text)
	}
}

func TestIsTerminalRoomError(t *testing.T) {
	if !IsTerminalRoomError(NewError(ErrorRoomDeleted, "gone")) {
		t.Fatalf("room_deleted should be terminal")
	}
	if !IsTerminalRoomError(NewError(ErrorInternalServer, "room has expired")) {
		t.Fatalf("deletion-worded message should be terminal")
	}
	if IsTerminalRoomError(NewError(ErrorRateLimited, "slow down")) {
		t.Fatalf("rate_limited should not be terminal")
	}
	if IsTerminalRoomError(nil) {
		t.Fatalf("nil is not terminal")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{BrokerURL: "ws://x"}.withDefaults()
	if len(cfg.BackoffTable) == 0 {
		t.Fatalf("backoff table not defaulted")
	}
	if cfg.HeartbeatInterval != 20*time.Second {
		t.Fatalf("heartbeat interval = %v", cfg.HeartbeatInterval)
	}
	if cfg.EchoSuppressWindow != 300*time.Millisecond {
		t.Fatalf("echo window = %v", cfg.EchoSuppressWindow)
	}
	// PongTimeout stays opt-in.
	if cfg.PongTimeout != 0 {
		t.Fatalf("pong timeout should default to disabled, got %v", cfg.PongTimeout)
	}
}
