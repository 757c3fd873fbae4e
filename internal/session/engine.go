package session

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/tandem/internal/patch"
	"github.com/MarcoPoloResearchLab/tandem/internal/presence"
	"github.com/MarcoPoloResearchLab/tandem/internal/protocol"
	"github.com/MarcoPoloResearchLab/tandem/internal/rooms"
	"github.com/MarcoPoloResearchLab/tandem/internal/roster"
	"go.uber.org/zap"
)

const (
	fieldRoomID       = "room_id"
	fieldConnectionID = "connection_id"
)

var (
	errMissingStore  = errors.New("session: room store required")
	errMissingRoster = errors.New("session: roster required")
)

// EngineConfig describes the collaborators of an Engine.
type EngineConfig struct {
	Store  rooms.Store
	Roster *roster.Roster
	Logger *zap.Logger
}

// Engine applies session events to the room store and roster and fans the
// results out to connections.
//
// Engine is not safe for concurrent use. Every call must complete before the
// next begins; Loop provides that ordering.
type Engine struct {
	store    rooms.Store
	roster   *roster.Roster
	channels *roomChannels
	presence *presence.Broadcaster
	// connections holds the ids of open connections. Whether one has joined
	// a room is answered by the roster.
	connections map[string]struct{}
	logger      *zap.Logger
}

// NewEngine validates the configuration and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Roster == nil {
		return nil, errMissingRoster
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	channels := newRoomChannels(logger)
	broadcaster, err := presence.NewBroadcaster(presence.Config{
		Directory: cfg.Roster,
		Publisher: channels,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:       cfg.Store,
		roster:      cfg.Roster,
		channels:    channels,
		presence:    broadcaster,
		connections: make(map[string]struct{}),
		logger:      logger,
	}, nil
}

// Connect starts tracking conn. Events from untracked connections are ignored.
func (e *Engine) Connect(conn Connection) {
	e.connections[conn.ID()] = struct{}{}
	e.logger.Debug("connection opened", zap.String(fieldConnectionID, conn.ID()))
}

// Join subscribes conn to the requested room, registers it as a participant,
// sends it the document and member list and announces it to the room.
func (e *Engine) Join(ctx context.Context, conn Connection, request protocol.JoinRoom) {
	if !e.tracked(conn) {
		return
	}
	roomID, ok := e.roomID(conn, request.RoomID)
	if !ok {
		return
	}

	if previous, registered := e.roster.Get(conn.ID()); registered && previous.RoomID != roomID {
		e.channels.Unsubscribe(previous.RoomID, conn.ID())
		e.roster.Remove(conn.ID())
		e.announceDeparture(previous)
		e.discardIfEmpty(ctx, previous.RoomID)
	}

	document, err := e.store.Ensure(ctx, roomID)
	if err != nil {
		e.logger.Error("join failed", zap.String(fieldRoomID, roomID.String()), zap.String(fieldConnectionID, conn.ID()), zap.Error(err))
		return
	}

	e.channels.Subscribe(roomID, conn)
	participant := e.roster.Register(conn.ID(), roomID, requestedName(conn, request.DisplayName))

	members := e.roster.ListInRoom(roomID)
	names := make([]string, 0, len(members))
	for _, member := range members {
		names = append(names, member.DisplayName)
	}

	e.send(conn, protocol.EventInitCode, document)
	e.send(conn, protocol.EventCurrentUserList, names)
	e.publish(roomID, conn.ID(), protocol.EventNewUserJoined, protocol.NewUserJoined{
		ConnectionID: participant.ConnectionID,
		DisplayName:  participant.DisplayName,
		Color:        participant.Color,
	})

	e.logger.Info("participant joined",
		zap.String(fieldRoomID, roomID.String()),
		zap.String(fieldConnectionID, conn.ID()),
		zap.String("display_name", participant.DisplayName),
		zap.Int("members", len(members)))
}

// Edit applies the batch to the room's document and relays the batch, not
// the resulting document, to the other subscribers of the room.
func (e *Engine) Edit(ctx context.Context, conn Connection, request protocol.CodeDelta) {
	if !e.tracked(conn) {
		return
	}
	roomID, ok := e.roomID(conn, request.RoomID)
	if !ok {
		return
	}
	edits, err := request.Edits()
	if err != nil {
		e.logger.Debug("malformed edit batch", zap.String(fieldConnectionID, conn.ID()), zap.Error(err))
		return
	}
	if len(edits) == 0 {
		return
	}

	document, _, err := e.store.Get(ctx, roomID)
	if err != nil {
		e.logger.Error("edit failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		return
	}
	if err := e.store.Set(ctx, roomID, patch.Apply(document, edits)); err != nil {
		e.logger.Error("edit failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		return
	}

	e.publish(roomID, conn.ID(), protocol.EventReceiveDelta, protocol.ReceiveDelta{Changes: request.Changes})
	e.logger.Debug("edit applied",
		zap.String(fieldRoomID, roomID.String()),
		zap.String(fieldConnectionID, conn.ID()),
		zap.Int("edit_count", len(edits)))
}

// CursorMove relays the sender's caret position to the rest of its room.
func (e *Engine) CursorMove(_ context.Context, conn Connection, request protocol.CursorMove) {
	if !e.tracked(conn) {
		return
	}
	roomID, ok := e.roomID(conn, request.RoomID)
	if !ok {
		return
	}
	e.presence.RelayCursor(conn.ID(), roomID, request.Position)
}

// SelectionChange relays the sender's selection, or its clearing, to the rest
// of its room.
func (e *Engine) SelectionChange(_ context.Context, conn Connection, request protocol.SelectionChange) {
	if !e.tracked(conn) {
		return
	}
	roomID, ok := e.roomID(conn, request.RoomID)
	if !ok {
		return
	}
	e.presence.RelaySelection(conn.ID(), roomID, request.Selection)
}

// RequestFullSync resubscribes conn to the room and resends the current
// document to conn alone.
func (e *Engine) RequestFullSync(ctx context.Context, conn Connection, request protocol.RequestFullSync) {
	if !e.tracked(conn) {
		return
	}
	roomID, ok := e.roomID(conn, request.RoomID)
	if !ok {
		return
	}

	e.channels.Subscribe(roomID, conn)
	document, _, err := e.store.Get(ctx, roomID)
	if err != nil {
		e.logger.Error("full sync failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		return
	}
	e.send(conn, protocol.EventInitCode, document)
}

// Disconnect forgets conn. A registered participant is announced as departed
// and rooms left without subscribers are discarded.
func (e *Engine) Disconnect(ctx context.Context, conn Connection) {
	if !e.tracked(conn) {
		return
	}
	delete(e.connections, conn.ID())
	e.channels.UnsubscribeAll(conn.ID())

	participant, ok := e.roster.Remove(conn.ID())
	if !ok {
		e.logger.Debug("connection closed before joining", zap.String(fieldConnectionID, conn.ID()))
		return
	}
	e.announceDeparture(participant)
	e.discardIfEmpty(ctx, participant.RoomID)
	e.discardOrphanedRooms(ctx)
}

// RoomSnapshot is a read-only view of one room.
type RoomSnapshot struct {
	RoomID       rooms.RoomID
	Document     string
	Participants []roster.Participant
}

// Snapshot returns the current state of roomID.
func (e *Engine) Snapshot(ctx context.Context, roomID rooms.RoomID) (RoomSnapshot, bool, error) {
	document, ok, err := e.store.Get(ctx, roomID)
	if err != nil || !ok {
		return RoomSnapshot{}, false, err
	}
	return RoomSnapshot{
		RoomID:       roomID,
		Document:     document,
		Participants: e.roster.ListInRoom(roomID),
	}, true, nil
}

// Stats counts live rooms, participants and connections.
type Stats struct {
	Rooms        int
	Participants int
	Connections  int
}

// Stats reports the current counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	ids, err := e.store.IDs(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Rooms:        len(ids),
		Participants: e.roster.Len(),
		Connections:  len(e.connections),
	}, nil
}

func (e *Engine) tracked(conn Connection) bool {
	if _, ok := e.connections[conn.ID()]; !ok {
		e.logger.Debug("event from untracked connection", zap.String(fieldConnectionID, conn.ID()))
		return false
	}
	return true
}

// requestedName prefers the name sent with the join and falls back to the one
// the connection was opened with.
func requestedName(conn Connection, displayName string) string {
	if strings.TrimSpace(displayName) != "" {
		return displayName
	}
	if named, ok := conn.(namedConnection); ok {
		return named.DisplayName()
	}
	return ""
}

func (e *Engine) roomID(conn Connection, raw string) (rooms.RoomID, bool) {
	roomID, err := rooms.NewRoomID(raw)
	if err != nil {
		e.logger.Debug("ignored event without room", zap.String(fieldConnectionID, conn.ID()), zap.Error(err))
		return "", false
	}
	return roomID, true
}

func (e *Engine) announceDeparture(participant roster.Participant) {
	e.publish(participant.RoomID, participant.ConnectionID, protocol.EventUserLeft, participant.ConnectionID)
	e.logger.Info("participant left",
		zap.String(fieldRoomID, participant.RoomID.String()),
		zap.String(fieldConnectionID, participant.ConnectionID))
}

func (e *Engine) empty(roomID rooms.RoomID) bool {
	return e.channels.Count(roomID) == 0 && e.roster.CountInRoom(roomID) == 0
}

func (e *Engine) discardIfEmpty(ctx context.Context, roomID rooms.RoomID) {
	if !e.empty(roomID) {
		return
	}
	if err := e.store.Delete(ctx, roomID); err != nil {
		e.logger.Error("room discard failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		return
	}
	e.logger.Info("room discarded", zap.String(fieldRoomID, roomID.String()))
}

// discardOrphanedRooms removes rooms that never had a subscriber, such as
// rooms created only by edits from connections that did not join them.
func (e *Engine) discardOrphanedRooms(ctx context.Context) {
	ids, err := e.store.IDs(ctx)
	if err != nil {
		e.logger.Error("room sweep failed", zap.Error(err))
		return
	}
	for _, roomID := range ids {
		e.discardIfEmpty(ctx, roomID)
	}
}

func (e *Engine) send(conn Connection, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		e.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := conn.Send(frame); err != nil {
		e.logger.Warn("dropped frame",
			zap.String("event", event),
			zap.String(fieldConnectionID, conn.ID()),
			zap.Error(err))
	}
}

func (e *Engine) publish(roomID rooms.RoomID, exceptConnectionID, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		e.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	e.channels.Publish(roomID, exceptConnectionID, frame)
}
