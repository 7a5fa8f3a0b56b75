package server

import (
	"testing"
	"time"

	"github.com/codecollab/collab-server/doc"
)

func newTestRoom(t *testing.T, clients ...*Client) *Room {
	t.Helper()
	r := NewRoom("ABC123")
	for i, c := range clients {
		if _, err := r.Join(c, "User"+string(rune('A'+i))); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	return r
}

func TestRoom_JoinAssignsPresence(t *testing.T) {
	r := NewRoom("ABC123")
	c := mockClient("c1")

	state, err := r.Join(c, "")
	if err != nil {
		t.Fatal(err)
	}
	if state.User.Name == "" || state.User.Color == "" {
		t.Errorf("presence incomplete: %+v", state.User)
	}
	if !state.User.IsActive {
		t.Error("fresh member should be active")
	}
	if state.Document != welcomeDocument {
		t.Errorf("document = %q, want welcome document", state.Document)
	}
	if state.DocumentVersion != 0 {
		t.Errorf("documentVersion = %d, want 0", state.DocumentVersion)
	}
}

func TestRoom_AddUserRejectsIncompletePresence(t *testing.T) {
	r := NewRoom("ABC123")
	c := mockClient("c1")

	err := r.AddUser(c, &Presence{ID: "c1", Color: "#fff"})
	if err != ErrInvalidUserData {
		t.Errorf("err = %v, want ErrInvalidUserData", err)
	}
	err = r.AddUser(c, &Presence{ID: "c1", Name: "Ann"})
	if err != ErrInvalidUserData {
		t.Errorf("err = %v, want ErrInvalidUserData", err)
	}
	if r.UserCount() != 0 {
		t.Errorf("user count = %d, want 0", r.UserCount())
	}
}

func TestRoom_JoinRejectsWhenFull(t *testing.T) {
	r := NewRoom("ABC123")
	for i := 0; i < maxUsersPerRoom; i++ {
		c := mockClient("c" + string(rune('0'+i)))
		if _, err := r.Join(c, ""); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}

	_, err := r.Join(mockClient("late"), "Late")
	if err != ErrRoomFull {
		t.Errorf("err = %v, want ErrRoomFull", err)
	}
	if r.UserCount() != maxUsersPerRoom {
		t.Errorf("user count = %d, want %d", r.UserCount(), maxUsersPerRoom)
	}
}

func TestRoom_LeaveIdempotent(t *testing.T) {
	c1 := mockClient("c1")
	c2 := mockClient("c2")
	r := newTestRoom(t, c1, c2)
	drain(c1)

	removed, empty := r.Leave("c2")
	if !removed || empty {
		t.Errorf("Leave = (%v, %v), want (true, false)", removed, empty)
	}
	recvEnvelope(t, c1) // user-left

	removed, _ = r.Leave("c2")
	if removed {
		t.Error("second Leave should be a no-op")
	}
	noMessage(t, c1)
}

func TestRoom_ApplyUpdatesDocumentAndHistory(t *testing.T) {
	c1 := mockClient("c1")
	r := newTestRoom(t, c1)

	res, err := r.Apply("c1", doc.NewInsert(0, "X"))
	if err != nil {
		t.Fatal(err)
	}
	if res.NewLength != res.PreviousLength+1 {
		t.Errorf("lengths = %d -> %d, want +1", res.PreviousLength, res.NewLength)
	}
	if r.Version() != 1 {
		t.Errorf("version = %d, want 1", r.Version())
	}
}

func TestRoom_ApplyBroadcastExcludesSender(t *testing.T) {
	c1 := mockClient("c1")
	c2 := mockClient("c2")
	r := newTestRoom(t, c1, c2)
	drain(c1)
	drain(c2)

	if _, err := r.Apply("c1", doc.NewInsert(0, "X")); err != nil {
		t.Fatal(err)
	}

	env := recvEnvelope(t, c2)
	if env.Event != MsgDocumentUpdate {
		t.Fatalf("event = %q, want %q", env.Event, MsgDocumentUpdate)
	}
	noMessage(t, c1)
}

func TestRoom_ApplyInvalidLeavesStateUntouched(t *testing.T) {
	c1 := mockClient("c1")
	c2 := mockClient("c2")
	r := newTestRoom(t, c1, c2)
	drain(c1)
	drain(c2)
	before := r.Document()

	_, err := r.Apply("c1", doc.NewDelete(len(before), 1))
	if err != ErrInvalidOperation {
		t.Fatalf("err = %v, want ErrInvalidOperation", err)
	}
	if r.Document() != before {
		t.Error("document changed after invalid operation")
	}
	if r.Version() != 0 {
		t.Errorf("version = %d, want 0", r.Version())
	}
	noMessage(t, c2)
}

func TestRoom_ApplyInsertDeleteRoundTrip(t *testing.T) {
	c1 := mockClient("c1")
	r := newTestRoom(t, c1)
	before := r.Document()

	if _, err := r.Apply("c1", doc.NewInsert(5, "XYZ")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Apply("c1", doc.NewDelete(5, 3)); err != nil {
		t.Fatal(err)
	}
	if r.Document() != before {
		t.Error("insert then delete did not restore the document")
	}
}

func TestRoom_ApplySequenceLinearizes(t *testing.T) {
	c1 := mockClient("c1")
	c2 := mockClient("c2")
	r := newTestRoom(t, c1, c2)
	drain(c1)
	drain(c2)

	ops := []doc.Operation{
		doc.NewInsert(0, "ab"),
		doc.NewDelete(1, 1),
		doc.NewInsert(1, "c"),
	}
	for _, op := range ops {
		if _, err := r.Apply("c1", op); err != nil {
			t.Fatal(err)
		}
	}

	// The updates reach c2 in apply order.
	for i := range ops {
		env := recvEnvelope(t, c2)
		if env.Event != MsgDocumentUpdate {
			t.Fatalf("event %d = %q, want %q", i, env.Event, MsgDocumentUpdate)
		}
	}
	if got := r.Document(); got[:2] != "ac" {
		t.Errorf("document prefix = %q, want ac", got[:2])
	}
}

func TestRoom_HistoryBounded(t *testing.T) {
	c1 := mockClient("c1")
	r := newTestRoom(t, c1)

	for i := 0; i < historyLimit+5; i++ {
		if _, err := r.Apply("c1", doc.NewInsert(0, "a")); err != nil {
			t.Fatal(err)
		}
		drain(c1)
	}
	if r.Version() != historyLimit {
		t.Errorf("version = %d, want %d", r.Version(), historyLimit)
	}
}

func TestRoom_SyncStateCapsOperations(t *testing.T) {
	c1 := mockClient("c1")
	r := newTestRoom(t, c1)

	for i := 0; i < 60; i++ {
		if _, err := r.Apply("c1", doc.NewInsert(0, "a")); err != nil {
			t.Fatal(err)
		}
	}
	sync := r.SyncState()
	if sync.Version != 60 {
		t.Errorf("version = %d, want 60", sync.Version)
	}
	if len(sync.Operations) != 50 {
		t.Errorf("operations = %d, want 50", len(sync.Operations))
	}
}

func TestRoom_UserListActivity(t *testing.T) {
	c1 := mockClient("c1")
	c2 := mockClient("c2")
	r := newTestRoom(t, c1, c2)

	r.mu.Lock()
	r.members["c2"].presence.LastSeen = time.Now().Add(-time.Minute)
	r.mu.Unlock()

	for _, u := range r.UserList() {
		switch u.ID {
		case "c1":
			if !u.IsActive {
				t.Error("c1 should be active")
			}
		case "c2":
			if u.IsActive {
				t.Error("c2 should be inactive after a minute unseen")
			}
		}
	}
}

func TestRoom_UpdateUserActivity(t *testing.T) {
	c1 := mockClient("c1")
	r := newTestRoom(t, c1)

	r.mu.Lock()
	r.members["c1"].presence.LastSeen = time.Now().Add(-time.Minute)
	r.mu.Unlock()

	r.UpdateUserActivity("c1")
	if users := r.UserList(); !users[0].IsActive {
		t.Error("member should be active again after UpdateUserActivity")
	}
}

func TestRoom_Stats(t *testing.T) {
	c1 := mockClient("c1")
	r := newTestRoom(t, c1)

	stats := r.Stats()
	if stats.ID != "ABC123" || stats.UserCount != 1 || stats.MaxUsers != maxUsersPerRoom {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DocumentLength != len(welcomeDocument) {
		t.Errorf("documentLength = %d, want %d", stats.DocumentLength, len(welcomeDocument))
	}
	if !stats.IsActive {
		t.Error("fresh room should be active")
	}
}

func TestRoom_ShouldCleanup(t *testing.T) {
	r := NewRoom("ABC123")
	if r.ShouldCleanup() {
		t.Error("fresh room should not be eligible for cleanup")
	}

	r.mu.Lock()
	r.lastActivity = time.Now().Add(-31 * time.Minute)
	r.mu.Unlock()
	if !r.ShouldCleanup() {
		t.Error("empty idle room should be eligible for cleanup")
	}

	c1 := mockClient("c1")
	if _, err := r.Join(c1, "Ann"); err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	r.lastActivity = time.Now().Add(-31 * time.Minute)
	r.mu.Unlock()
	if r.ShouldCleanup() {
		t.Error("room with members must never be cleaned up")
	}
}

func TestRoom_Detail(t *testing.T) {
	c1 := mockClient("c1")
	r := newTestRoom(t, c1)
	for i := 0; i < 15; i++ {
		if _, err := r.Apply("c1", doc.NewInsert(0, "a")); err != nil {
			t.Fatal(err)
		}
	}

	detail := r.Detail()
	if len(detail.Users) != 1 {
		t.Errorf("users = %d, want 1", len(detail.Users))
	}
	if len(detail.RecentOperations) != 10 {
		t.Errorf("recentOperations = %d, want 10", len(detail.RecentOperations))
	}
	if detail.OperationCount != 15 {
		t.Errorf("operationCount = %d, want 15", detail.OperationCount)
	}
}
