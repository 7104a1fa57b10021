// Package chat drives the per-connection protocol: authenticate the bearer
// token, authorize the friend pair, resolve the room, then relay frames
// between the websocket and the broadcast bus until the connection closes.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"log/slog"

	"pairchat-backend/internal/auth"
	"pairchat-backend/internal/bus"
	"pairchat-backend/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1 << 20
)

const sendBuffer = 128

const notFriendsMessage = "You can only chat with friends"

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// Store is the slice of the persistence layer a session needs.
type Store interface {
	AreFriends(ctx context.Context, userID, peerUserID string) (bool, error)
	GetOrCreateRoom(ctx context.Context, userID, peerUserID string, nowMs int64) (storage.RoomRow, error)
	AppendMessage(ctx context.Context, roomID, senderID, recipientID, text string, nowMs int64) (storage.MessageRow, error)
}

// Broker is the fan-out surface the session publishes through. The in-process
// bus satisfies it; a distributed backend can be substituted without touching
// this package.
type Broker interface {
	Join(roomID string, sub bus.Subscriber)
	Leave(roomID string, sub bus.Subscriber)
	Publish(roomID string, data []byte)
}

// serverFrame is every frame the server sends. Chat frames carry the sender
// fields; connection_established and error frames only carry type and message.
type serverFrame struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	SenderID       string `json:"sender_id,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// clientFrame is the only inbound shape; unknown fields are ignored.
type clientFrame struct {
	Message string `json:"message"`
}

type session struct {
	conn     *websocket.Conn
	identity auth.Identity
	peerID   string
	roomID   string
	send     chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.send)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Deliver hands a bus event to the session's write pump without blocking.
// The closed flag is checked under the same lock close sets it under, so a
// session torn down mid-publish reports a failed delivery instead of sending
// on a closed channel.
func (s *session) Deliver(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

type Handler struct {
	logger   *slog.Logger
	verifier TokenVerifier
	store    Store
	broker   Broker

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func NewHandler(logger *slog.Logger, verifier TokenVerifier, store Store, broker Broker) *Handler {
	return &Handler{
		logger:   logger.With("component", "chat"),
		verifier: verifier,
		store:    store,
		broker:   broker,
		sessions: make(map[*session]struct{}),
	}
}

func (h *Handler) Handler() http.Handler {
	return http.HandlerFunc(h.handle)
}

// CloseAll terminates every live session; used on shutdown.
func (h *Handler) CloseAll() {
	for _, s := range h.snapshot() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(writeWait),
		)
		s.close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	peerID := peerIDFromPath(r.URL.Path)
	if peerID == "" {
		http.NotFound(w, r)
		return
	}

	// Authentication failures terminate the handshake with no websocket
	// frame; the client cannot tell a bad signature from an expired token
	// or an unknown account.
	identity, err := h.verifier.Verify(r.Context(), extractToken(r))
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	// Authorization is checked once, at join time. A friendship revoked
	// mid-session does not terminate live connections.
	friends, err := h.store.AreFriends(r.Context(), identity.ID, peerID)
	if err != nil {
		// Fail closed, but do not report a storage fault as an
		// authorization verdict.
		h.logger.Error("friendship check failed", "error", err, "userID", identity.ID, "peerID", peerID)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		return
	}
	if !friends {
		h.rejectNotFriends(conn)
		return
	}

	room, err := h.store.GetOrCreateRoom(r.Context(), identity.ID, peerID, time.Now().UnixMilli())
	if err != nil {
		h.logger.Error("room resolve failed", "error", err, "userID", identity.ID, "peerID", peerID)
		_ = conn.Close()
		return
	}

	s := &session{
		conn:     conn,
		identity: identity,
		peerID:   peerID,
		roomID:   room.ID,
		send:     make(chan []byte, sendBuffer),
	}
	h.track(s)
	h.broker.Join(s.roomID, s)

	// Membership must never outlive the connection.
	defer func() {
		h.broker.Leave(s.roomID, s)
		h.untrack(s)
		s.close()
	}()

	h.logger.Info("chat connected", "remoteAddr", r.RemoteAddr, "userID", identity.ID, "roomID", room.ID)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.writePump(s, r.RemoteAddr)

	s.Deliver(mustEncodeFrame(serverFrame{
		Type:    "connection_established",
		Message: "Connected to chat",
	}))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("chat disconnected", "remoteAddr", r.RemoteAddr, "userID", identity.ID, "error", err)
			return
		}
		h.handleInbound(s, msg)
	}
}

// handleInbound relays one client frame: persist first, then broadcast.
// Malformed frames and empty texts are dropped without feedback, and a
// persistence failure skips the broadcast rather than killing the connection.
func (h *Handler) handleInbound(s *session, raw []byte) {
	var cf clientFrame
	if err := json.Unmarshal(raw, &cf); err != nil {
		return
	}

	text := strings.TrimSpace(cf.Message)
	if text == "" {
		return
	}

	nowMs := time.Now().UnixMilli()
	msg, err := h.store.AppendMessage(context.Background(), s.roomID, s.identity.ID, s.peerID, text, nowMs)
	if err != nil {
		if err != storage.ErrEmptyMessage {
			h.logger.Error("message persist failed", "error", err, "roomID", s.roomID, "userID", s.identity.ID)
		}
		return
	}

	frame, err := encodeJSON(serverFrame{
		Type:           "message",
		Message:        msg.Text,
		SenderID:       s.identity.ID,
		SenderUsername: s.identity.Username,
		Timestamp:      time.UnixMilli(msg.CreatedAtMs).UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("chat frame marshal failed", "error", err)
		return
	}

	h.broker.Publish(s.roomID, frame)
}

// rejectNotFriends emits the single authorization error frame, then closes.
// This is the only fault the client ever sees as a structured frame.
func (h *Handler) rejectNotFriends(conn *websocket.Conn) {
	frame := mustEncodeFrame(serverFrame{
		Type:    "error",
		Message: notFriendsMessage,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not friends"),
		time.Now().Add(writeWait),
	)
	_ = conn.Close()
}

func (h *Handler) writePump(s *session, remoteAddr string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Info("chat write failed", "remoteAddr", remoteAddr, "error", err)
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (h *Handler) snapshot() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (h *Handler) track(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

func (h *Handler) untrack(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// peerIDFromPath extracts the peer segment of /ws/chat/<peerID>.
func peerIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/ws/chat/")
	rest = strings.Trim(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func mustEncodeFrame(f serverFrame) []byte {
	b, err := encodeJSON(f)
	if err != nil {
		panic(err)
	}
	return b
}
