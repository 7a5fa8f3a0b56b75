package server

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/codecollab/collab-server/doc"
)

const (
	maxUsersPerRoom  = 10
	historyLimit     = 1000
	roomActiveWindow = 5 * time.Minute
	roomIdleTimeout  = 30 * time.Minute
)

const welcomeDocument = "// Welcome to the collaborative editor!\n" +
	"// Start typing to see real-time collaboration in action\n\n" +
	"console.log(\"Hello, collaborative world!\");"

type member struct {
	presence *Presence
	client   *Client
}

// Room owns one shared document and the members editing it.
//
// All state is guarded by mu. Broadcasts enqueue frames onto member send
// buffers while the lock is held, which pins every recipient's delivery
// order to the apply order; the network write itself happens later on each
// client's write pump, so the lock is never held across a transport write.
type Room struct {
	ID string

	mu           sync.Mutex
	document     *doc.Document
	history      *doc.History
	members      map[string]*member
	createdAt    time.Time
	lastActivity time.Time
}

// RoomStats is the introspection snapshot of a room. IsActive here means
// activity within the last five minutes.
type RoomStats struct {
	ID             string    `json:"id"`
	UserCount      int       `json:"userCount"`
	MaxUsers       int       `json:"maxUsers"`
	DocumentLength int       `json:"documentLength"`
	OperationCount int       `json:"operationCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
	IsActive       bool      `json:"isActive"`
}

// RoomDetail is the per-room HTTP introspection payload.
type RoomDetail struct {
	RoomStats
	Users            []UserInfo  `json:"users"`
	RecentOperations []doc.Entry `json:"recentOperations"`
}

// ApplyResult reports the document lengths around a committed operation.
type ApplyResult struct {
	Operation      doc.Operation
	PreviousLength int
	NewLength      int
}

// NewRoom creates a room holding the welcome document.
func NewRoom(id string) *Room {
	now := time.Now()
	return &Room{
		ID:           id,
		document:     doc.New(welcomeDocument),
		history:      doc.NewHistory(historyLimit),
		members:      make(map[string]*member),
		createdAt:    now,
		lastActivity: now,
	}
}

// AddUser inserts a member, stamping its join and last-seen times.
func (r *Room) AddUser(c *Client, p *Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(c, p)
}

func (r *Room) addLocked(c *Client, p *Presence) error {
	if len(r.members) >= maxUsersPerRoom {
		return ErrRoomFull
	}
	if p == nil || p.Name == "" || p.Color == "" {
		return ErrInvalidUserData
	}
	now := time.Now()
	p.JoinedAt = now
	p.LastSeen = now
	r.members[p.ID] = &member{presence: p, client: c}
	r.lastActivity = now
	return nil
}

// Join adds c to the room, announces it to everyone already present, and
// returns the full state the joiner needs. The joiner itself never receives
// the user-joined notice; the ack carries everything.
func (r *Room) Join(c *Client, userName string) (JoinRoomAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.TrimSpace(userName)
	if name == "" {
		name = fallbackName(len(r.members))
	}
	p := &Presence{ID: c.ID, Name: name, Color: nextColor()}
	if err := r.addLocked(c, p); err != nil {
		return JoinRoomAck{}, err
	}

	now := time.Now()
	r.broadcastLocked(MsgUserJoined, UserJoinedNotice{
		User:      p.info(now),
		UserCount: len(r.members),
	}, c.ID)

	return r.stateLocked(p, now), nil
}

// StateFor returns the current room state addressed to an existing member.
// Used for the idempotent rejoin path, which must not re-add the member or
// notify anyone.
func (r *Room) StateFor(sessionID string) (JoinRoomAck, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sessionID]
	if !ok {
		return JoinRoomAck{}, false
	}
	return r.stateLocked(m.presence, time.Now()), true
}

func (r *Room) stateLocked(p *Presence, now time.Time) JoinRoomAck {
	return JoinRoomAck{
		Success:         true,
		Document:        r.document.String(),
		Users:           r.userListLocked(now),
		User:            p.info(now),
		RoomStats:       r.statsLocked(now),
		DocumentVersion: r.history.Len(),
	}
}

// Leave removes the member and tells everyone remaining. Idempotent. The
// second return reports whether the room is now empty.
func (r *Room) Leave(sessionID string) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = time.Now()
	if _, ok := r.members[sessionID]; !ok {
		return false, len(r.members) == 0
	}
	delete(r.members, sessionID)
	r.broadcastLocked(MsgUserLeft, sessionID, "")
	return true, len(r.members) == 0
}

// UpdateUserActivity refreshes the member's last-seen time.
func (r *Room) UpdateUserActivity(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[sessionID]; ok {
		m.presence.LastSeen = time.Now()
	}
}

// Apply validates op against the current document, commits it, and fans the
// update out to every member except the sender. On any failure the document
// and history are unchanged and nobody but the sender hears about it.
func (r *Room) Apply(senderID string, op doc.Operation) (ApplyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.document.Len()
	if !op.Validate(prev) {
		return ApplyResult{Operation: op}, ErrInvalidOperation
	}
	if err := r.document.Apply(op); err != nil {
		return ApplyResult{Operation: op}, ErrInvalidOperation
	}

	now := time.Now()
	r.history.Append(doc.Entry{Operation: op, AppliedAt: now})
	r.lastActivity = now
	if m, ok := r.members[senderID]; ok {
		m.presence.LastSeen = now
	}

	r.broadcastLocked(MsgDocumentUpdate, op, senderID)

	return ApplyResult{
		Operation:      op,
		PreviousLength: prev,
		NewLength:      r.document.Len(),
	}, nil
}

// RelayCursor refreshes the member's presence and forwards the position to
// the rest of the room verbatim. Cursor positions carry no ordering
// relationship to document updates.
func (r *Room) RelayCursor(sessionID string, position json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sessionID]
	if !ok {
		return
	}
	now := time.Now()
	m.presence.LastSeen = now
	var cur Cursor
	if err := json.Unmarshal(position, &cur); err == nil {
		m.presence.Cursor = cur
	}
	r.broadcastLocked(MsgCursorUpdate, CursorUpdate{
		UserID:   sessionID,
		Position: position,
		User:     m.presence.info(now),
	}, sessionID)
}

// RelayLanguage forwards a language switch to the rest of the room, stamped
// with the sender's identity.
func (r *Room) RelayLanguage(sessionID, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sessionID]
	if !ok {
		return
	}
	m.presence.LastSeen = time.Now()
	r.broadcastLocked(MsgLanguageChanged, LanguageChanged{
		UserID:   sessionID,
		Language: language,
		UserName: m.presence.Name,
	}, sessionID)
}

// SyncState snapshots the document with the last 50 applied operations.
func (r *Room) SyncState() DocumentSync {
	r.mu.Lock()
	defer r.mu.Unlock()
	return DocumentSync{
		Document:   r.document.String(),
		Version:    r.history.Len(),
		Operations: r.history.Last(50),
		Timestamp:  nowMillis(),
	}
}

// Document returns the current text.
func (r *Room) Document() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.document.String()
}

// Version returns the operation-history length, the protocol's version proxy.
func (r *Room) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Len()
}

// UserCount returns the current member count.
func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// UserList snapshots the members with activity computed now.
func (r *Room) UserList() []UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userListLocked(time.Now())
}

func (r *Room) userListLocked(now time.Time) []UserInfo {
	users := make([]UserInfo, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, m.presence.info(now))
	}
	return users
}

// Stats snapshots the room for introspection.
func (r *Room) Stats() RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked(time.Now())
}

func (r *Room) statsLocked(now time.Time) RoomStats {
	return RoomStats{
		ID:             r.ID,
		UserCount:      len(r.members),
		MaxUsers:       maxUsersPerRoom,
		DocumentLength: r.document.Len(),
		OperationCount: r.history.Len(),
		CreatedAt:      r.createdAt,
		LastActivity:   r.lastActivity,
		IsActive:       now.Sub(r.lastActivity) < roomActiveWindow,
	}
}

// Detail is the per-room HTTP payload: stats plus members plus the last ten
// applied operations.
func (r *Room) Detail() RoomDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	return RoomDetail{
		RoomStats:        r.statsLocked(now),
		Users:            r.userListLocked(now),
		RecentOperations: r.history.Last(10),
	}
}

// ShouldCleanup reports whether the room is empty and idle past the sweep
// threshold.
func (r *Room) ShouldCleanup() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shouldCleanupLocked(time.Now())
}

// TryShouldCleanup is ShouldCleanup without blocking: the sweep holds the
// registry lock and must not wait on a busy room.
func (r *Room) TryShouldCleanup() bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()
	return r.shouldCleanupLocked(time.Now())
}

func (r *Room) shouldCleanupLocked(now time.Time) bool {
	return len(r.members) == 0 && now.Sub(r.lastActivity) > roomIdleTimeout
}

// broadcastLocked enqueues an event for every member except one. A member
// with a full send buffer misses the frame rather than stalling the room.
func (r *Room) broadcastLocked(event string, data any, except string) {
	frame := ServerEnvelope{Event: event, Data: data}.Encode()
	for id, m := range r.members {
		if id == except {
			continue
		}
		m.client.enqueue(frame)
	}
}
