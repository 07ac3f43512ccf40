package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetMessagesPagination(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(MessagesResponse{
			Messages: []MessageInfo{
				{ID: "m1", Kind: "CHAT", SenderID: "u1", Content: "older", CreatedAtMs: 100},
				{ID: "m2", Kind: "CHAT", SenderID: "u2", Content: "newer", CreatedAtMs: 200},
			},
			NextCursor: "m1",
			HasMore:    true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("tkn")
	resp, err := c.GetMessages(context.Background(), "r1", 20, "m5")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}

	if gotPath != "/rooms/r1/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "limit=20") || !strings.Contains(gotQuery, "before=m5") {
		t.Fatalf("query = %q", gotQuery)
	}
	if gotAuth != "Bearer tkn" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if len(resp.Messages) != 2 || resp.NextCursor != "m1" || !resp.HasMore {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetRoomState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms/r1/state" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(RoomStateResponse{
			RoomID: "r1", Playing: true, PositionMs: 5000, PlaybackRate: 1, ServerTimeMs: 1234,
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).GetRoomState(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRoomState: %v", err)
	}
	if !resp.Playing || resp.PositionMs != 5000 {
		t.Fatalf("unexpected state: %+v", resp)
	}
}

func TestErrorResponseDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "room not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetMembers(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "room not found") || !strings.Contains(err.Error(), "404") {
		t.Fatalf("error lost server detail: %v", err)
	}
}

func TestLeaveBeaconFireAndForget(t *testing.T) {
	received := make(chan LeaveBeacon, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/rooms/r1/leave-beacon" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var b LeaveBeacon
		json.NewDecoder(r.Body).Decode(&b)
		received <- b
	}))
	defer srv.Close()

	NewClient(srv.URL).SendLeaveBeacon("r1", "u1")
	b := <-received
	if b.RoomID != "r1" || b.UserID != "u1" {
		t.Fatalf("unexpected beacon: %+v", b)
	}
}
