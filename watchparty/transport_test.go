package watchparty

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelayClamping(t *testing.T) {
	table := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second}
	for failures := 1; failures <= len(want); failures++ {
		if got := backoffDelay(table, failures); got != want[failures-1] {
			t.Fatalf("failures=%d: got %v, want %v", failures, got, want[failures-1])
		}
	}
}

func TestBackoffDelayEmptyTable(t *testing.T) {
	if got := backoffDelay(nil, 3); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestPublishWhileDisconnected(t *testing.T) {
	tr := NewTransport(Config{BrokerURL: "ws://localhost:0"}, nil)
	// Must be a silent no-op: no panic, no block, no state change.
	tr.Publish("/app/room.r1.chat", WireEvent{Type: EventChat, RoomID: "r1"})
	if tr.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", tr.State())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	tr := NewTransport(Config{BrokerURL: "ws://localhost:0"}, nil)
	tr.Disconnect()
	tr.Disconnect()
	if tr.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", tr.State())
	}
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	tr := NewTransport(Config{}, nil)
	err := tr.Connect(LifecycleHandlers{})
	if err == nil {
		t.Fatalf("expected error for empty broker URL")
	}
	var pe *PartyError
	if !errors.As(err, &pe) || pe.Code != ErrorInvalidConfig {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandleFrameMalformedBodyDropped(t *testing.T) {
	tr := NewTransport(Config{BrokerURL: "ws://localhost:0"}, nil)
	var got []WireEvent
	tr.Subscribe("/topic/room.r1", func(ev WireEvent) { got = append(got, ev) })

	tr.handleFrame(frame{Command: frameMessage, Destination: "/topic/room.r1", Body: json.RawMessage(`{not json`)})
	if len(got) != 0 {
		t.Fatalf("malformed body reached handler: %+v", got)
	}

	tr.handleFrame(frame{Command: frameMessage, Destination: "/topic/room.r1", Body: json.RawMessage(`{"type":"CHAT","roomId":"r1"}`)})
	if len(got) != 1 || got[0].Type != EventChat {
		t.Fatalf("valid frame not delivered: %+v", got)
	}
}

func TestHandleRawGarbageDropped(t *testing.T) {
	tr := NewTransport(Config{BrokerURL: "ws://localhost:0"}, nil)
	var got []WireEvent
	tr.Subscribe("/topic/room.r1", func(ev WireEvent) { got = append(got, ev) })

	tr.handleRaw([]byte(`{not json`))
	tr.handleRaw([]byte(`{"command":"MESSAGE","destination":"/topic/room.r1","body":{"type":"CHAT","roomId":"r1"}}`))
	if len(got) != 1 || got[0].Type != EventChat {
		t.Fatalf("got %+v, want one CHAT", got)
	}
}

func TestHandleFrameUnknownDestinationIgnored(t *testing.T) {
	tr := NewTransport(Config{BrokerURL: "ws://localhost:0"}, nil)
	tr.handleFrame(frame{Command: frameMessage, Destination: "/topic/room.other", Body: json.RawMessage(`{"type":"CHAT"}`)})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr := NewTransport(Config{BrokerURL: "ws://localhost:0"}, nil)
	var calls int
	unsub := tr.Subscribe("/topic/room.r1", func(WireEvent) { calls++ })

	body := json.RawMessage(`{"type":"CHAT","roomId":"r1"}`)
	tr.handleFrame(frame{Command: frameMessage, Destination: "/topic/room.r1", Body: body})
	unsub()
	tr.handleFrame(frame{Command: frameMessage, Destination: "/topic/room.r1", Body: body})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestNonMessageFramesIgnored(t *testing.T) {
	tr := NewTransport(Config{BrokerURL: "ws://localhost:0"}, nil)
	var calls int
	tr.Subscribe("/topic/room.r1", func(WireEvent) { calls++ })

	tr.handleFrame(frame{Command: frameSubscribe, Destination: "/topic/room.r1"})
	tr.handleFrame(frame{Command: "RECEIPT", Destination: "/topic/room.r1"})
	if calls != 0 {
		t.Fatalf("control frames reached handler")
	}
}
