package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	sheetdomain "permappel/internal/domain/sheet"
)

// Message types exchanged over a channel. Client→server types mirror the
// legacy socket event names so existing front-ends keep working.
const (
	MsgAuthenticate  = "authenticate"
	MsgAuthenticated = "authenticated"
	MsgAuthError     = "auth_error"
	MsgJoin          = "join-attendance"
	MsgLeave         = "leave-attendance"
	MsgUserJoined    = "user-joined-attendance"
	MsgUserLeft      = "user-left-attendance"
	MsgUsersUpdated  = "attendance-users-updated"
	MsgUpdateStatus  = "update-student-status"
	MsgStatusUpdated = "student-status-updated"
	MsgError         = "attendance-error"
)

// Envelope frames every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// AuthenticatePayload carries the bearer token binding an identity to the channel.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// UserInfo identifies the authenticated user on a channel.
type UserInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// AuthenticatedPayload acknowledges a successful authenticate.
type AuthenticatedPayload struct {
	User UserInfo `json:"user"`
}

// ErrorPayload carries a human-readable failure message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// JoinPayload subscribes the channel to one sheet topic. UserID and
// UserName are informational; the server trusts the channel identity.
type JoinPayload struct {
	SheetID  string `json:"sheetId"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// LeavePayload unsubscribes the channel from one sheet topic.
type LeavePayload struct {
	SheetID string `json:"sheetId"`
}

// UserPresencePayload announces a single join or leave. Informational
// only; the authoritative list always follows in a UsersUpdatedPayload.
type UserPresencePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// MemberInfo is one entry of the authoritative membership snapshot.
type MemberInfo struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// UsersUpdatedPayload is the authoritative full membership snapshot of a
// sheet topic. Always a full list, never a delta.
type UsersUpdatedPayload struct {
	Users []MemberInfo `json:"users"`
}

// UpdateStatusPayload requests one durable status change.
type UpdateStatusPayload struct {
	SheetID   string             `json:"sheetId"`
	StudentID string             `json:"studentId"`
	Status    sheetdomain.Status `json:"status"`
	UserID    string             `json:"userId,omitempty"`
	UserName  string             `json:"userName,omitempty"`
}

// StatusUpdatedPayload is the authoritative broadcast of a confirmed
// status change.
type StatusUpdatedPayload struct {
	SheetID    string             `json:"sheetId"`
	StudentID  string             `json:"studentId"`
	Status     sheetdomain.Status `json:"status"`
	ModifiedBy string             `json:"modifiedBy"`
	Timestamp  time.Time          `json:"timestamp"`
}
