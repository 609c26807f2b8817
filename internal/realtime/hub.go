package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"permappel/internal/application/orchestrators"
	sheetdomain "permappel/internal/domain/sheet"
)

// TokenVerifier validates a bearer token and returns the identity bound
// to it.
type TokenVerifier interface {
	VerifyToken(token string) (UserInfo, error)
}

// StatusUpdater applies one durable status change. Implementations wrap
// the update orchestrator; tests substitute fakes. The returned time is
// the authoritative modification timestamp.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, sheetID, studentID string, status sheetdomain.Status, modifierID string) (time.Time, error)
}

// Hub terminates one push channel per client connection and mediates all
// session-scoped protocol messages: authentication, sheet topic
// membership and status-update fan-out.
type Hub struct {
	registry *Registry
	verifier TokenVerifier
	updater  StatusUpdater
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client // by session id
}

// NewHub creates a Hub. The verifier authenticates channels; the updater
// persists status changes before they are broadcast.
func NewHub(verifier TokenVerifier, updater StatusUpdater) *Hub {
	return &Hub{
		registry: NewRegistry(),
		verifier: verifier,
		updater:  updater,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The deployment is a single on-site server reached from
			// the school network; origins are not restricted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

// Registry exposes the session registry for read-side consumers.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ConnectedCount returns the number of open channels.
func (h *Hub) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a websocket channel and starts its
// read and write loops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("channel_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(uuid.New().String(), h, conn)
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	slog.Info("channel_connected", "session_id", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

// dispatch routes one inbound envelope. Runs on the client's read loop,
// so per-channel messages are handled in arrival order.
func (h *Hub) dispatch(c *Client, env Envelope) {
	switch env.Type {
	case MsgAuthenticate:
		h.handleAuthenticate(c, env)
	case MsgJoin:
		h.handleJoin(c, env)
	case MsgLeave:
		h.handleLeave(c, env)
	case MsgUpdateStatus:
		h.handleUpdateStatus(c, env)
	default:
		slog.Debug("channel_unknown_message", "session_id", c.id, "type", env.Type)
	}
}

func (h *Hub) handleAuthenticate(c *Client, env Envelope) {
	var payload AuthenticatePayload
	if err := env.Decode(&payload); err != nil {
		h.send(c, MsgAuthError, ErrorPayload{Message: "malformed authenticate message"})
		return
	}

	user, err := h.verifier.VerifyToken(payload.Token)
	if err != nil {
		slog.Info("channel_auth_rejected", "session_id", c.id)
		h.send(c, MsgAuthError, ErrorPayload{Message: "invalid token"})
		return
	}

	c.authenticated = true
	c.user = user
	slog.Info("channel_authenticated", "session_id", c.id, "user_id", user.ID)
	h.send(c, MsgAuthenticated, AuthenticatedPayload{User: user})
}

func (h *Hub) handleJoin(c *Client, env Envelope) {
	if !c.authenticated {
		slog.Debug("channel_join_unauthenticated", "session_id", c.id)
		return
	}
	var payload JoinPayload
	if err := env.Decode(&payload); err != nil || payload.SheetID == "" {
		h.send(c, MsgError, ErrorPayload{Message: "malformed join message"})
		return
	}

	session := Session{
		ID:       c.id,
		UserID:   c.user.ID,
		UserName: c.displayName(),
		JoinedAt: time.Now(),
	}

	// Joining a second sheet on the same connection implicitly leaves
	// the first.
	if previous := h.registry.Add(payload.SheetID, session); previous != "" {
		h.announceLeft(previous, session.UserID, session.UserName)
	}

	slog.Info("sheet_joined", "session_id", c.id, "user_id", c.user.ID, "sheet_id", payload.SheetID)

	h.broadcast(payload.SheetID, MsgUserJoined, UserPresencePayload{
		UserID:   session.UserID,
		UserName: session.UserName,
	}, c.id)
	h.broadcastMembership(payload.SheetID)
}

func (h *Hub) handleLeave(c *Client, env Envelope) {
	if !c.authenticated {
		slog.Debug("channel_leave_unauthenticated", "session_id", c.id)
		return
	}
	var payload LeavePayload
	if err := env.Decode(&payload); err != nil || payload.SheetID == "" {
		return
	}
	// Only a confirmed member may trigger a leave announcement; anything
	// else would push presence noise into a topic the channel never held.
	if !h.registry.Remove(payload.SheetID, c.id) {
		return
	}
	slog.Info("sheet_left", "session_id", c.id, "sheet_id", payload.SheetID)
	h.announceLeft(payload.SheetID, c.user.ID, c.displayName())
}

func (h *Hub) handleUpdateStatus(c *Client, env Envelope) {
	if !c.authenticated {
		slog.Debug("channel_update_unauthenticated", "session_id", c.id)
		return
	}
	var payload UpdateStatusPayload
	if err := env.Decode(&payload); err != nil {
		h.send(c, MsgError, ErrorPayload{Message: "malformed update message"})
		return
	}
	if joined, ok := h.registry.SheetOf(c.id); !ok || joined != payload.SheetID {
		h.send(c, MsgError, ErrorPayload{Message: "join the sheet before updating it"})
		return
	}
	if !payload.Status.IsValid() {
		h.send(c, MsgError, ErrorPayload{Message: "invalid status value"})
		return
	}

	// The write runs to completion regardless of what happens to this
	// channel; it is simply not broadcast if unsuccessful.
	modifiedAt, err := h.updater.UpdateStatus(context.Background(), payload.SheetID, payload.StudentID, payload.Status, c.user.ID)
	if err != nil {
		// Failures go only to the originator: broadcasting an
		// unconfirmed change would desynchronize other clients.
		switch {
		case errors.Is(err, orchestrators.ErrWriteConflict):
			h.send(c, MsgError, ErrorPayload{Message: "conflict detected, please reload and try again"})
		case errors.Is(err, orchestrators.ErrNotFound):
			h.send(c, MsgError, ErrorPayload{Message: "sheet or student not found"})
		default:
			slog.Error("status_update_failed", "session_id", c.id, "sheet_id", payload.SheetID, "student_id", payload.StudentID, "error", err)
			h.send(c, MsgError, ErrorPayload{Message: "failed to update status"})
		}
		return
	}

	h.BroadcastStatusChanged(payload.SheetID, payload.StudentID, payload.Status, c.user.ID, modifiedAt)
}

// BroadcastStatusChanged pushes a confirmed status change to every
// channel joined to the sheet. Called after the write is durable, never
// before.
func (h *Hub) BroadcastStatusChanged(sheetID, studentID string, status sheetdomain.Status, modifiedBy string, timestamp time.Time) {
	h.broadcast(sheetID, MsgStatusUpdated, StatusUpdatedPayload{
		SheetID:    sheetID,
		StudentID:  studentID,
		Status:     status,
		ModifiedBy: modifiedBy,
		Timestamp:  timestamp,
	}, "")
}

// unregister tears a channel down: implicit leave from its sheet, then
// membership re-broadcast to whoever remains.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.close()
	if !known {
		return
	}

	slog.Info("channel_disconnected", "session_id", c.id)
	if sheetID, ok := h.registry.RemoveSession(c.id); ok {
		h.announceLeft(sheetID, c.user.ID, c.displayName())
	}
}

// announceLeft emits the informational leave event followed by the
// authoritative membership snapshot.
func (h *Hub) announceLeft(sheetID, userID, userName string) {
	h.broadcast(sheetID, MsgUserLeft, UserPresencePayload{UserID: userID, UserName: userName}, "")
	h.broadcastMembership(sheetID)
}

// broadcastMembership sends the full membership snapshot (never a delta)
// to every channel joined to the sheet, including the one that caused
// the change.
func (h *Hub) broadcastMembership(sheetID string) {
	members := h.registry.MembersOf(sheetID)
	users := make([]MemberInfo, 0, len(members))
	for _, m := range members {
		users = append(users, MemberInfo{
			UserID:      m.UserID,
			UserName:    m.UserName,
			ConnectedAt: m.JoinedAt,
		})
	}
	h.broadcast(sheetID, MsgUsersUpdated, UsersUpdatedPayload{Users: users}, "")
}

// broadcast fans an envelope out to every channel joined to sheetID,
// except excludeSessionID if non-empty. Sends never block: a client
// whose queue is full is dropped and treated as disconnected.
func (h *Hub) broadcast(sheetID, msgType string, payload any, excludeSessionID string) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		slog.Error("broadcast_encode_failed", "type", msgType, "error", err)
		return
	}

	members := h.registry.MembersOf(sheetID)
	h.mu.Lock()
	targets := make([]*Client, 0, len(members))
	for _, m := range members {
		if m.ID == excludeSessionID {
			continue
		}
		if c, ok := h.clients[m.ID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(env) {
			slog.Warn("channel_send_queue_full", "session_id", c.id, "sheet_id", sheetID)
			go h.unregister(c)
		}
	}
}

// send delivers a message to a single channel, dropping it if dead.
func (h *Hub) send(c *Client, msgType string, payload any) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		slog.Error("send_encode_failed", "type", msgType, "error", err)
		return
	}
	if !c.enqueue(env) {
		go h.unregister(c)
	}
}
