// Package agent implements the client side of the roll-call protocol:
// it keeps a local replica of one sheet reconciled against the server
// over a websocket channel plus periodic snapshot refreshes.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"permappel/internal/application/projections"
	"permappel/internal/domain/sheet"
	"permappel/internal/realtime"
)

const (
	// How often the local replica is reconciled against a full server
	// snapshot. Push events keep it fresh in between; the refresh
	// repairs anything a missed event left stale.
	defaultRefreshInterval = 5 * time.Second

	maxReconnectDelay = 30 * time.Second
)

// ErrNotConnected means the channel is down; the edit was not sent.
var ErrNotConnected = errors.New("channel not connected")

// Config configures an Agent.
type Config struct {
	BaseURL  string // e.g. "http://localhost:3000"
	Username string
	Password string

	RefreshInterval time.Duration // zero means the default
	HTTPClient      *http.Client  // nil means http.DefaultClient
}

// Agent mirrors one sheet for a single user. All state transitions are
// server-confirmed: a local edit is sent over the channel and only
// applied to the replica when the server's broadcast comes back.
type Agent struct {
	cfg   Config
	httpc *http.Client

	mu       sync.RWMutex
	token    string
	user     realtime.UserInfo
	sheetID  string
	snapshot projections.SheetSnapshot
	byID     map[string]int // student id -> index into snapshot.Students
	members  []realtime.MemberInfo
	online   bool

	connMu sync.Mutex
	conn   *websocket.Conn

	// OnChange, if set, is called after every replica mutation.
	OnChange func()
}

// New creates an Agent. Call Login, then Run.
func New(cfg Config) *Agent {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Agent{cfg: cfg, httpc: httpc}
}

// Login authenticates against the REST API and stores the bearer token.
func (a *Agent) Login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"username": a.cfg.Username,
		"password": a.cfg.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login rejected: %s", resp.Status)
	}

	var result struct {
		Token string            `json:"token"`
		User  realtime.UserInfo `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}

	a.mu.Lock()
	a.token = result.Token
	a.user = result.User
	a.mu.Unlock()
	return nil
}

// Watch selects the sheet to mirror. The replica is populated on the
// next connect or refresh.
func (a *Agent) Watch(sheetID string) {
	a.mu.Lock()
	a.sheetID = sheetID
	a.mu.Unlock()
}

// Snapshot returns a copy of the current replica.
func (a *Agent) Snapshot() projections.SheetSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := a.snapshot
	snap.Students = append([]projections.StudentEntry(nil), a.snapshot.Students...)
	return snap
}

// Members returns a copy of the last known sheet membership.
func (a *Agent) Members() []realtime.MemberInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]realtime.MemberInfo(nil), a.members...)
}

// Online reports whether the push channel is currently established.
func (a *Agent) Online() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.online
}

// SetStatus sends one status edit over the channel. The replica is NOT
// mutated here; it changes when the server's confirmation broadcast
// arrives, so an unconfirmed edit can never stick locally.
func (a *Agent) SetStatus(studentID string, status sheet.Status) error {
	a.mu.RLock()
	sheetID := a.sheetID
	user := a.user
	a.mu.RUnlock()

	return a.sendEnvelope(realtime.MsgUpdateStatus, realtime.UpdateStatusPayload{
		SheetID:   sheetID,
		StudentID: studentID,
		Status:    status,
		UserID:    user.ID,
		UserName:  user.Username,
	})
}

// Run connects, then keeps the replica reconciled until ctx is
// cancelled. Transport loss triggers reconnection with backoff, followed
// by re-authentication and an automatic rejoin.
func (a *Agent) Run(ctx context.Context) error {
	go a.refreshLoop(ctx)

	delay := time.Second
	for {
		if err := a.connect(ctx); err != nil {
			slog.Warn("agent_connect_failed", "error", err)
		} else {
			delay = time.Second
			a.readLoop(ctx)
		}
		a.setOffline()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// connect dials the websocket, authenticates and rejoins the watched sheet.
func (a *Agent) connect(ctx context.Context) error {
	wsURL, err := websocketURL(a.cfg.BaseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	a.mu.RLock()
	token := a.token
	sheetID := a.sheetID
	user := a.user
	a.mu.RUnlock()

	if err := a.sendEnvelope(realtime.MsgAuthenticate, realtime.AuthenticatePayload{Token: token}); err != nil {
		conn.Close()
		return err
	}
	if sheetID != "" {
		if err := a.refreshSnapshot(ctx); err != nil {
			slog.Warn("agent_snapshot_failed", "sheet_id", sheetID, "error", err)
		}
		if err := a.sendEnvelope(realtime.MsgJoin, realtime.JoinPayload{
			SheetID:  sheetID,
			UserID:   user.ID,
			UserName: user.Username,
		}); err != nil {
			conn.Close()
			return err
		}
	}

	a.mu.Lock()
	a.online = true
	a.mu.Unlock()
	a.notify()
	return nil
}

// readLoop consumes pushed events until the transport fails.
func (a *Agent) readLoop(ctx context.Context) {
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil {
		return
	}

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			slog.Debug("agent_channel_closed", "error", err)
			return
		}
		a.handleMessage(env)
		select {
		case <-ctx.Done():
			conn.Close()
			return
		default:
		}
	}
}

func (a *Agent) handleMessage(env realtime.Envelope) {
	switch env.Type {
	case realtime.MsgAuthenticated:
		slog.Debug("agent_authenticated")

	case realtime.MsgAuthError:
		var p realtime.ErrorPayload
		env.Decode(&p)
		slog.Warn("agent_auth_rejected", "message", p.Message)

	case realtime.MsgStatusUpdated:
		var p realtime.StatusUpdatedPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		a.applyStatusUpdate(p)

	case realtime.MsgUsersUpdated:
		var p realtime.UsersUpdatedPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		a.mu.Lock()
		// Wholesale replacement; the server list is authoritative.
		a.members = p.Users
		a.mu.Unlock()
		a.notify()

	case realtime.MsgError:
		var p realtime.ErrorPayload
		env.Decode(&p)
		slog.Warn("agent_server_error", "message", p.Message)
	}
}

// applyStatusUpdate folds one confirmed change into the replica.
// Last write wins: a newer ModifiedAt never loses to an older event
// arriving late.
func (a *Agent) applyStatusUpdate(p realtime.StatusUpdatedPayload) {
	a.mu.Lock()
	changed := false
	if p.SheetID == a.sheetID {
		if i, ok := a.byID[p.StudentID]; ok {
			entry := &a.snapshot.Students[i]
			// Deliberately stricter than pure arrival order: an event
			// older than what the replica holds is dropped, so a
			// reconcile fetch racing a broadcast cannot roll it back.
			if entry.ModifiedAt.IsZero() || !entry.ModifiedAt.After(p.Timestamp) {
				entry.Status = p.Status
				entry.ModifiedBy = p.ModifiedBy
				entry.ModifiedAt = p.Timestamp
				a.recomputeStats()
				changed = true
			}
		}
	}
	a.mu.Unlock()
	if changed {
		a.notify()
	}
}

// refreshLoop reconciles the replica against a full snapshot on a fixed
// interval.
func (a *Agent) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.RLock()
			sheetID := a.sheetID
			a.mu.RUnlock()
			if sheetID == "" {
				continue
			}
			if err := a.refreshSnapshot(ctx); err != nil {
				slog.Debug("agent_refresh_failed", "sheet_id", sheetID, "error", err)
			}
		}
	}
}

// refreshSnapshot fetches the authoritative snapshot and replaces the
// replica with it.
func (a *Agent) refreshSnapshot(ctx context.Context) error {
	a.mu.RLock()
	sheetID := a.sheetID
	token := a.token
	a.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api/attendance/"+url.PathEscape(sheetID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot rejected: %s", resp.Status)
	}

	var snap projections.SheetSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	a.mu.Lock()
	a.snapshot = snap
	a.byID = make(map[string]int, len(snap.Students))
	for i, s := range snap.Students {
		a.byID[s.StudentID] = i
	}
	a.mu.Unlock()
	a.notify()
	return nil
}

func (a *Agent) recomputeStats() {
	stats := sheet.Stats{}
	for _, s := range a.snapshot.Students {
		stats.Add(s.Status)
	}
	a.snapshot.Stats = stats
}

// setOffline marks the channel down and clears the membership list.
// Stale presence must not be shown while disconnected.
func (a *Agent) setOffline() {
	a.connMu.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.connMu.Unlock()

	a.mu.Lock()
	wasOnline := a.online
	a.online = false
	a.members = nil
	a.mu.Unlock()
	if wasOnline {
		a.notify()
	}
}

func (a *Agent) sendEnvelope(msgType string, payload any) error {
	env, err := realtime.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	return a.conn.WriteJSON(env)
}

func (a *Agent) notify() {
	if a.OnChange != nil {
		a.OnChange()
	}
}

// websocketURL derives the ws endpoint from the HTTP base URL.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
