package server

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codecollab/collab-server/doc"
)

// Dispatcher routes inbound envelopes from client sessions to the registry
// and rooms, and owns the disconnect cleanup path.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, log: log}
}

// Dispatch routes one inbound envelope.
func (d *Dispatcher) Dispatch(c *Client, env Envelope) {
	switch env.Event {
	case MsgCreateRoom:
		d.handleCreateRoom(c, env)
	case MsgJoinRoom:
		d.handleJoinRoom(c, env)
	case MsgDocumentOperation:
		d.handleOperation(c, env)
	case MsgCursorPosition:
		d.handleCursor(c, env)
	case MsgLanguageChange:
		d.handleLanguageChange(c, env)
	case MsgRequestSync:
		d.handleRequestSync(c, env)
	default:
		d.log.Warn("unknown event", slog.String("event", env.Event), slog.String("session", c.ID))
	}
}

func (d *Dispatcher) handleCreateRoom(c *Client, env Envelope) {
	req, err := decodeCreateRoom(env.Data)
	if err != nil {
		c.reply(env.AckID, ErrorAck{Error: ErrInvalidUserData.Error()})
		return
	}
	if c.RoomID() != "" {
		c.reply(env.AckID, ErrorAck{Error: ErrAlreadyInRoom.Error()})
		return
	}

	room := d.registry.Create()
	state, err := room.Join(c, req.UserName)
	if err != nil {
		// A freshly created empty room cannot reject its first member.
		d.registry.Remove(room.ID)
		c.reply(env.AckID, ErrorAck{Error: err.Error()})
		return
	}
	c.setRoom(room.ID)

	d.log.Info("room created by session",
		slog.String("room", room.ID), slog.String("session", c.ID))
	c.reply(env.AckID, CreateRoomAck{
		Success:   true,
		RoomID:    room.ID,
		Document:  state.Document,
		Users:     state.Users,
		User:      state.User,
		RoomStats: state.RoomStats,
	})
}

func (d *Dispatcher) handleJoinRoom(c *Client, env Envelope) {
	req, err := decodeJoinRoom(env.Data)
	if err != nil {
		c.reply(env.AckID, ErrorAck{Error: ErrInvalidRoomID.Error()})
		return
	}
	roomID, err := normalizeRoomID(req.RoomID)
	if err != nil {
		c.reply(env.AckID, ErrorAck{Error: err.Error()})
		return
	}

	if current := c.RoomID(); current != "" {
		if current != roomID {
			c.reply(env.AckID, ErrorAck{Error: ErrAlreadyInRoom.Error()})
			return
		}
		// Rejoin of the current room: reply with fresh state, add nobody,
		// notify nobody.
		room, err := d.registry.Lookup(roomID)
		if err != nil {
			c.reply(env.AckID, ErrorAck{Error: err.Error()})
			return
		}
		if state, ok := room.StateFor(c.ID); ok {
			c.reply(env.AckID, state)
			return
		}
		c.reply(env.AckID, ErrorAck{Error: ErrRoomNotFound.Error()})
		return
	}

	room, err := d.registry.Lookup(roomID)
	if err != nil {
		c.reply(env.AckID, ErrorAck{Error: err.Error()})
		return
	}
	state, err := room.Join(c, req.UserName)
	if err != nil {
		c.reply(env.AckID, ErrorAck{Error: err.Error()})
		return
	}
	c.setRoom(room.ID)

	d.log.Info("session joined room",
		slog.String("room", room.ID), slog.String("session", c.ID))
	c.reply(env.AckID, state)
}

func (d *Dispatcher) handleOperation(c *Client, env Envelope) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}

	var op doc.Operation
	if err := json.Unmarshal(env.Data, &op); err != nil {
		c.sendEvent(MsgOperationError, OperationError{Error: ErrInvalidOperation.Error()})
		return
	}

	room, err := d.registry.Lookup(roomID)
	if err != nil {
		c.sendEvent(MsgOperationError, OperationError{
			Error:       ErrRoomNotFound.Error(),
			Operation:   &op,
			OperationID: op.ID,
		})
		return
	}

	// Stamp the authoritative fields before the operation enters the room.
	op.UserID = c.ID
	op.Timestamp = nowMillis()
	op.RoomID = roomID
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	result, err := room.Apply(c.ID, op)
	if err != nil {
		d.log.Debug("operation rejected",
			slog.String("room", roomID), slog.String("session", c.ID),
			slog.String("type", op.Type), slog.Int("position", op.Position))
		c.sendEvent(MsgOperationError, OperationError{
			Error:       err.Error(),
			Operation:   &op,
			OperationID: op.ID,
		})
		return
	}

	c.sendEvent(MsgOperationAck, OperationAck{
		Success:     true,
		OperationID: result.Operation.ID,
		Operation:   result.Operation,
	})
}

func (d *Dispatcher) handleCursor(c *Client, env Envelope) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	room, err := d.registry.Lookup(roomID)
	if err != nil {
		return
	}
	room.RelayCursor(c.ID, env.Data)
}

func (d *Dispatcher) handleLanguageChange(c *Client, env Envelope) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	var req LanguageChangeRequest
	if err := json.Unmarshal(env.Data, &req); err != nil || req.Language == "" {
		return
	}
	room, err := d.registry.Lookup(roomID)
	if err != nil {
		return
	}
	room.RelayLanguage(c.ID, req.Language)
}

func (d *Dispatcher) handleRequestSync(c *Client, env Envelope) {
	roomID := c.RoomID()
	if roomID == "" {
		c.sendEvent(MsgSyncError, SyncError{Error: ErrRoomNotFound.Error()})
		return
	}
	room, err := d.registry.Lookup(roomID)
	if err != nil {
		c.sendEvent(MsgSyncError, SyncError{Error: ErrRoomNotFound.Error()})
		return
	}
	c.sendEvent(MsgDocumentSync, room.SyncState())
}

// Disconnect removes the session from its room, tells the remaining members,
// and drops the room if it is now empty.
func (d *Dispatcher) Disconnect(c *Client) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	c.clearRoom()

	room, err := d.registry.Lookup(roomID)
	if err != nil {
		if !errors.Is(err, ErrRoomNotFound) {
			d.log.Warn("disconnect lookup failed", slog.String("room", roomID), slog.Any("error", err))
		}
		return
	}
	removed, empty := room.Leave(c.ID)
	if removed {
		d.log.Info("session left room",
			slog.String("room", roomID), slog.String("session", c.ID))
	}
	if empty {
		d.registry.RemoveIfEmpty(roomID)
	}
}
