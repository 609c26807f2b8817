package realtime

import (
	"sort"
	"sync"
	"time"
)

// Session is one authenticated channel's membership in one sheet topic.
// Ephemeral: destroyed on leave or disconnect, never persisted.
type Session struct {
	ID       string // channel/connection id
	UserID   string
	UserName string
	JoinedAt time.Time
}

// Registry is the single source of truth for which sessions are viewing
// which sheet. All access is serialized by a mutex; MembersOf never
// observes a torn state from a concurrent Add/Remove.
type Registry struct {
	mu      sync.Mutex
	bySheet map[string]map[string]Session // sheetID -> sessionID -> session
	sheetOf map[string]string             // sessionID -> sheetID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bySheet: make(map[string]map[string]Session),
		sheetOf: make(map[string]string),
	}
}

// Add registers a session under sheetID and returns the sheet the
// session previously occupied, if any.
// PRE: session.ID is non-empty
// POST: session is a member of exactly sheetID
// INVARIANT: a session id appears in at most one sheet's member set
func (r *Registry) Add(sheetID string, session Session) (previousSheet string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sheetOf[session.ID]; ok && prev != sheetID {
		previousSheet = prev
		r.removeLocked(prev, session.ID)
	}
	if r.bySheet[sheetID] == nil {
		r.bySheet[sheetID] = make(map[string]Session)
	}
	r.bySheet[sheetID][session.ID] = session
	r.sheetOf[session.ID] = sheetID
	return previousSheet
}

// Remove deletes a session from a sheet's member set.
// PRE: sheetID and sessionID are non-empty
// POST: session is no longer a member of sheetID; returns whether it was one
func (r *Registry) Remove(sheetID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sheetOf[sessionID] != sheetID {
		return false
	}
	r.removeLocked(sheetID, sessionID)
	return true
}

// RemoveSession deletes a session from whatever sheet it occupies.
// Used on disconnect, where the channel no longer knows its sheet.
// POST: Returns the sheet the session was in, and whether it was in one
func (r *Registry) RemoveSession(sessionID string) (sheetID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sheetID, ok = r.sheetOf[sessionID]
	if ok {
		r.removeLocked(sheetID, sessionID)
	}
	return sheetID, ok
}

func (r *Registry) removeLocked(sheetID, sessionID string) {
	members := r.bySheet[sheetID]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.bySheet, sheetID)
	}
	if r.sheetOf[sessionID] == sheetID {
		delete(r.sheetOf, sessionID)
	}
}

// MembersOf returns the sessions currently joined to sheetID, ordered by
// join time. The result is a fresh snapshot; callers may not observe
// later mutations through it.
func (r *Registry) MembersOf(sheetID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]Session, 0, len(r.bySheet[sheetID]))
	for _, s := range r.bySheet[sheetID] {
		members = append(members, s)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

// SheetOf returns the sheet a session is currently joined to.
func (r *Registry) SheetOf(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sheetID, ok := r.sheetOf[sessionID]
	return sheetID, ok
}
