package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/util"
)

const (
	authTimeout  = 5 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Authorizer decides whether the token holder may subscribe to room.
type Authorizer func(ctx context.Context, claims *jwt.Claims, room string) bool

// ClientMessage is sent by subscribers: first "auth", then optional
// "join"/"leave" for extra rooms.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Room  string `json:"room,omitempty"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Room    string `json:"room,omitempty"`
}

type WSHandler struct {
	hub       *Hub
	tokens    *jwt.Manager
	authorize Authorizer
	log       *util.Logger
}

func NewWSHandler(hub *Hub, tokens *jwt.Manager, authorize Authorizer, log *util.Logger) *WSHandler {
	return &WSHandler{hub: hub, tokens: tokens, authorize: authorize, log: log}
}

// Serve upgrades the request and subscribes the connection to room once
// the first message authenticates it.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, room string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WSHandler.Serve", "upgrade failed", err)
		return
	}
	defer conn.Close()

	claims, ok := h.authenticate(conn)
	if !ok {
		return
	}
	if !h.authorize(r.Context(), claims, room) {
		h.writeJSON(conn, ServerMessage{Type: "error", Message: "not allowed to join " + room})
		return
	}

	client := NewClient(util.GenerateUUID(), claims.Subject)
	h.hub.Join(client, room)
	h.writeJSON(conn, ServerMessage{Type: "auth_success", Message: "authenticated", Room: room})
	h.log.Info("WSHandler.Serve", "client "+client.ID+" ("+claims.Subject+") joined "+room)

	done := make(chan struct{})
	go h.readLoop(r.Context(), conn, client, claims, done)
	h.writeLoop(conn, client, done)
}

func (h *WSHandler) authenticate(conn *websocket.Conn) (*jwt.Claims, bool) {
	conn.SetReadDeadline(time.Now().Add(authTimeout))
	var msg ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		h.writeJSON(conn, ServerMessage{Type: "error", Message: "auth timeout"})
		return nil, false
	}
	if msg.Type != "auth" {
		h.writeJSON(conn, ServerMessage{Type: "error", Message: "first message must be auth"})
		return nil, false
	}
	token, found := strings.CutPrefix(msg.Token, "Bearer ")
	if !found {
		h.writeJSON(conn, ServerMessage{Type: "error", Message: "invalid token"})
		return nil, false
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		h.writeJSON(conn, ServerMessage{Type: "error", Message: "invalid token"})
		return nil, false
	}
	return claims, true
}

// readLoop keeps the read deadline fresh and handles join/leave requests.
// It owns unregistering the client.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, claims *jwt.Claims, done chan struct{}) {
	defer close(done)
	defer h.hub.Unregister(client)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if json.Unmarshal(raw, &msg) != nil || msg.Room == "" {
			continue
		}
		switch msg.Type {
		case "join":
			if h.authorize(ctx, claims, msg.Room) {
				h.hub.Join(client, msg.Room)
			}
		case "leave":
			h.hub.Leave(client, msg.Room)
		}
	}
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, client *Client, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("WSHandler.writeLoop", "write to "+client.ID+" failed: "+err.Error())
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WSHandler) writeJSON(conn *websocket.Conn, v interface{}) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(v)
}
