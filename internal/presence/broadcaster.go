package presence

import (
	"encoding/json"
	"errors"

	"github.com/MarcoPoloResearchLab/tandem/internal/protocol"
	"github.com/MarcoPoloResearchLab/tandem/internal/rooms"
	"github.com/MarcoPoloResearchLab/tandem/internal/roster"
	"go.uber.org/zap"
)

var (
	errMissingDirectory = errors.New("presence: participant directory required")
	errMissingPublisher = errors.New("presence: publisher required")
)

// Directory resolves the participant behind a connection.
type Directory interface {
	Get(connectionID string) (roster.Participant, bool)
}

// Publisher fans a frame out to a room, skipping one connection.
type Publisher interface {
	Publish(roomID rooms.RoomID, exceptConnectionID string, frame []byte)
}

type Config struct {
	Directory Directory
	Publisher Publisher
	Logger    *zap.Logger
}

// Broadcaster relays cursor and selection updates to the other members of the
// sender's room. It keeps no state between updates.
type Broadcaster struct {
	directory Directory
	publisher Publisher
	logger    *zap.Logger
}

func NewBroadcaster(cfg Config) (*Broadcaster, error) {
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	if cfg.Publisher == nil {
		return nil, errMissingPublisher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		directory: cfg.Directory,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// RelayCursor forwards position from connectionID to the rest of roomID.
// It reports whether the update was forwarded.
func (b *Broadcaster) RelayCursor(connectionID string, roomID rooms.RoomID, position json.RawMessage) bool {
	if len(position) == 0 {
		return false
	}
	sender, ok := b.sender(connectionID, roomID)
	if !ok {
		return false
	}
	return b.publish(sender, protocol.EventReceiveCursor, protocol.ReceiveCursor{
		ConnectionID: sender.ConnectionID,
		Position:     position,
		Color:        sender.Color,
		DisplayName:  sender.DisplayName,
	})
}

// RelaySelection forwards selection from connectionID to the rest of roomID.
// A collapsed selection is sent as an explicit clear.
func (b *Broadcaster) RelaySelection(connectionID string, roomID rooms.RoomID, selection *protocol.Selection) bool {
	if selection == nil {
		return false
	}
	sender, ok := b.sender(connectionID, roomID)
	if !ok {
		return false
	}
	payload := protocol.ReceiveSelection{
		ConnectionID: sender.ConnectionID,
		Color:        sender.Color,
		DisplayName:  sender.DisplayName,
	}
	if selection.Collapsed() {
		payload.Cleared = true
	} else {
		forwarded := *selection
		payload.Selection = &forwarded
	}
	return b.publish(sender, protocol.EventReceiveSelection, payload)
}

// sender only accepts updates about the room the connection is registered in.
func (b *Broadcaster) sender(connectionID string, roomID rooms.RoomID) (roster.Participant, bool) {
	participant, ok := b.directory.Get(connectionID)
	if !ok {
		b.logger.Debug("presence from unregistered connection", zap.String("connection_id", connectionID))
		return roster.Participant{}, false
	}
	if participant.RoomID != roomID {
		b.logger.Debug("presence for foreign room",
			zap.String("connection_id", connectionID),
			zap.String("room_id", roomID.String()),
			zap.String("member_of", participant.RoomID.String()))
		return roster.Participant{}, false
	}
	return participant, true
}

func (b *Broadcaster) publish(sender roster.Participant, event string, payload any) bool {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		b.logger.Error("presence encode failed", zap.String("event", event), zap.Error(err))
		return false
	}
	b.publisher.Publish(sender.RoomID, sender.ConnectionID, frame)
	return true
}
