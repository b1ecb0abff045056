package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/util"
)

func newWSServer(t *testing.T, hub *Hub, tokens *jwt.Manager) *httptest.Server {
	t.Helper()
	allowOwnRoom := func(ctx context.Context, c *jwt.Claims, room string) bool {
		return room == "user:"+c.Subject
	}
	h := NewWSHandler(hub, tokens, allowOwnRoom, util.NewWithWriter(io.Discard))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, strings.TrimPrefix(r.URL.Path, "/ws/rooms/"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWSAuthenticatesAndReceivesEvents(t *testing.T) {
	hub := newTestHub()
	tokens := jwt.NewManager("secret", time.Hour)
	srv := newWSServer(t, hub, tokens)
	conn := dial(t, srv, "user:u1")

	token, _ := tokens.Generate("u1", jwt.RoleCustomer)
	if err := conn.WriteJSON(ClientMessage{Type: "auth", Token: "Bearer " + token}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var ack ServerMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "auth_success" {
		t.Fatalf("ack=%+v err=%v", ack, err)
	}

	// Join happens before the ack is written.
	if err := hub.Publish(context.Background(), "user:u1", "notification", map[string]string{"id": "n1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event != "notification" {
		t.Fatalf("env=%+v err=%v", env, err)
	}
}

func TestWSRejects(t *testing.T) {
	tokens := jwt.NewManager("secret", time.Hour)
	otherUser, _ := tokens.Generate("u2", jwt.RoleCustomer)

	cases := []struct {
		name string
		msg  ClientMessage
	}{
		{"not auth first", ClientMessage{Type: "join", Room: "user:u1"}},
		{"missing bearer", ClientMessage{Type: "auth", Token: otherUser}},
		{"bad token", ClientMessage{Type: "auth", Token: "Bearer nope"}},
		{"foreign room", ClientMessage{Type: "auth", Token: "Bearer " + otherUser}},
	}
	for _, tt := range cases {
		hub := newTestHub()
		conn := dial(t, newWSServer(t, hub, tokens), "user:u1")
		if err := conn.WriteJSON(tt.msg); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		var resp ServerMessage
		if err := conn.ReadJSON(&resp); err != nil || resp.Type != "error" {
			t.Fatalf("%s: resp=%+v err=%v", tt.name, resp, err)
		}
		if hub.Subscribers("user:u1") != 0 {
			t.Fatalf("%s: rejected client joined the room", tt.name)
		}
	}
}
