package server

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Cursor is a line/column position within the document.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Presence is the per-member record within a room.
type Presence struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	Cursor   Cursor    `json:"cursor"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// UserInfo is the wire shape of a member, with activity computed at snapshot
// time. A member counts as active when seen within the last 30 seconds.
type UserInfo struct {
	Presence
	IsActive bool `json:"isActive"`
}

const userActiveWindow = 30 * time.Second

func (p *Presence) info(now time.Time) UserInfo {
	return UserInfo{Presence: *p, IsActive: now.Sub(p.LastSeen) < userActiveWindow}
}

var userNames = []string{
	"Alice", "Bob", "Charlie", "Diana", "Eve", "Frank",
	"Grace", "Henry", "Ivy", "Jack", "Kate", "Leo",
}

var userColors = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f39c12",
	"#9b59b6", "#1abc9c", "#e67e22", "#00bcd4",
	"#ff5722", "#8bc34a", "#ff6b81", "#5352ed",
}

// colorSeq is process-global, so two members of one room can end up with the
// same color when other rooms consumed intermediate slots.
var colorSeq atomic.Uint64

func nextColor() string {
	n := colorSeq.Add(1) - 1
	return userColors[n%uint64(len(userColors))]
}

// fallbackName picks a display name for a joiner that supplied none, based
// on how many members the room already has.
func fallbackName(existingCount int) string {
	if existingCount < len(userNames) {
		return userNames[existingCount]
	}
	return fmt.Sprintf("User %d", existingCount+1)
}
