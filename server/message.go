package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/codecollab/collab-server/doc"
)

// Client → server events.
const (
	MsgCreateRoom        = "create-room"
	MsgJoinRoom          = "join-room"
	MsgDocumentOperation = "document-operation"
	MsgCursorPosition    = "cursor-position"
	MsgLanguageChange    = "language-change"
	MsgRequestSync       = "request-sync"
)

// Server → client events.
const (
	MsgAck             = "ack"
	MsgUserJoined      = "user-joined"
	MsgUserLeft        = "user-left"
	MsgDocumentUpdate  = "document-update"
	MsgOperationAck    = "operation-ack"
	MsgOperationError  = "operation-error"
	MsgCursorUpdate    = "cursor-update"
	MsgLanguageChanged = "language-changed"
	MsgDocumentSync    = "document-sync"
	MsgSyncError       = "sync-error"
	MsgError           = "error"
)

// Error strings are sent to clients verbatim.
var (
	ErrInvalidRoomID    = errors.New("Invalid room ID format")
	ErrRoomNotFound     = errors.New("Room not found")
	ErrAlreadyInRoom    = errors.New("Already in a different room")
	ErrRoomFull         = errors.New("Room is full")
	ErrInvalidUserData  = errors.New("Invalid user data")
	ErrInvalidOperation = errors.New("Invalid operation")
)

// Envelope frames every inbound message. AckID, when present, is the
// correlation id the client expects back on its ack reply.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID *uint64         `json:"ackId,omitempty"`
}

// ServerEnvelope frames every outbound message.
type ServerEnvelope struct {
	Event string  `json:"event"`
	Data  any     `json:"data,omitempty"`
	AckID *uint64 `json:"ackId,omitempty"`
}

// Encode serializes a ServerEnvelope to JSON bytes.
func (m ServerEnvelope) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

// CreateRoomRequest is the create-room payload.
type CreateRoomRequest struct {
	UserName string `json:"userName"`
}

// JoinRoomRequest is the join-room payload.
type JoinRoomRequest struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// ErrorAck is the failure shape shared by create-room and join-room acks.
type ErrorAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CreateRoomAck acknowledges a successful create-room.
type CreateRoomAck struct {
	Success   bool       `json:"success"`
	RoomID    string     `json:"roomId"`
	Document  string     `json:"document"`
	Users     []UserInfo `json:"users"`
	User      UserInfo   `json:"user"`
	RoomStats RoomStats  `json:"roomStats"`
}

// JoinRoomAck acknowledges a successful join-room. Unlike CreateRoomAck it
// carries the document version.
type JoinRoomAck struct {
	Success         bool       `json:"success"`
	Document        string     `json:"document"`
	Users           []UserInfo `json:"users"`
	User            UserInfo   `json:"user"`
	RoomStats       RoomStats  `json:"roomStats"`
	DocumentVersion int        `json:"documentVersion"`
}

// UserJoinedNotice announces a new member to the rest of the room.
type UserJoinedNotice struct {
	User      UserInfo `json:"user"`
	UserCount int      `json:"userCount"`
}

// OperationAck confirms an applied operation to its originator.
type OperationAck struct {
	Success     bool          `json:"success"`
	OperationID string        `json:"operationId"`
	Operation   doc.Operation `json:"operation"`
}

// OperationError reports a rejected operation to its originator.
type OperationError struct {
	Error       string         `json:"error"`
	Operation   *doc.Operation `json:"operation,omitempty"`
	OperationID string         `json:"operationId,omitempty"`
}

// CursorUpdate relays a member's cursor position. Position is forwarded
// verbatim, with no transformation against intervening edits.
type CursorUpdate struct {
	UserID   string          `json:"userId"`
	Position json.RawMessage `json:"position"`
	User     UserInfo        `json:"user"`
}

// LanguageChangeRequest is the language-change payload.
type LanguageChangeRequest struct {
	Language string `json:"language"`
	UserID   string `json:"userId,omitempty"`
}

// LanguageChanged relays a language switch to the rest of the room.
type LanguageChanged struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
	UserName string `json:"userName"`
}

// DocumentSync is the full-state reply to request-sync.
type DocumentSync struct {
	Document   string      `json:"document"`
	Version    int         `json:"version"`
	Operations []doc.Entry `json:"operations"`
	Timestamp  int64       `json:"timestamp"`
}

// SyncError is the failure reply to request-sync.
type SyncError struct {
	Error string `json:"error"`
}

// ErrorNotice reports a malformed frame outside any ack exchange.
type ErrorNotice struct {
	Message string `json:"message"`
}

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// normalizeRoomID uppercases id and checks the lexical rules: exactly six
// characters from [A-Z0-9].
func normalizeRoomID(id string) (string, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !roomIDPattern.MatchString(id) {
		return "", ErrInvalidRoomID
	}
	return id, nil
}

// decodeCreateRoom tolerates the legacy shape where the payload is absent
// entirely.
func decodeCreateRoom(data json.RawMessage) (CreateRoomRequest, error) {
	if emptyPayload(data) {
		return CreateRoomRequest{}, nil
	}
	var req CreateRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return CreateRoomRequest{}, err
	}
	return req, nil
}

// decodeJoinRoom tolerates the legacy shape where the payload is a bare
// room-id string instead of an object.
func decodeJoinRoom(data json.RawMessage) (JoinRoomRequest, error) {
	if emptyPayload(data) {
		return JoinRoomRequest{}, ErrInvalidRoomID
	}
	if trimmed := bytes.TrimSpace(data); trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return JoinRoomRequest{}, err
		}
		return JoinRoomRequest{RoomID: id}, nil
	}
	var req JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return JoinRoomRequest{}, err
	}
	return req, nil
}

func emptyPayload(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func nowMillis() int64 { return time.Now().UnixMilli() }
