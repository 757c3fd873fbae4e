package session

import (
	"github.com/MarcoPoloResearchLab/tandem/internal/rooms"
	"go.uber.org/zap"
)

// Connection is the outbound half of one live client connection.
type Connection interface {
	ID() string
	// Send queues a frame without waiting for delivery.
	Send(frame []byte) error
}

// namedConnection is a Connection that was opened with a display name.
type namedConnection interface {
	Connection
	DisplayName() string
}

// roomChannels tracks which connections receive broadcasts for a room. It is
// the transport-level grouping; roster membership is tracked separately.
type roomChannels struct {
	subscribers map[rooms.RoomID]map[string]Connection
	memberships map[string]map[rooms.RoomID]struct{}
	logger      *zap.Logger
}

func newRoomChannels(logger *zap.Logger) *roomChannels {
	return &roomChannels{
		subscribers: make(map[rooms.RoomID]map[string]Connection),
		memberships: make(map[string]map[rooms.RoomID]struct{}),
		logger:      logger,
	}
}

func (c *roomChannels) Subscribe(roomID rooms.RoomID, conn Connection) {
	if _, ok := c.subscribers[roomID]; !ok {
		c.subscribers[roomID] = make(map[string]Connection)
	}
	c.subscribers[roomID][conn.ID()] = conn
	if _, ok := c.memberships[conn.ID()]; !ok {
		c.memberships[conn.ID()] = make(map[rooms.RoomID]struct{})
	}
	c.memberships[conn.ID()][roomID] = struct{}{}
}

func (c *roomChannels) Unsubscribe(roomID rooms.RoomID, connectionID string) {
	subscribers := c.subscribers[roomID]
	if subscribers != nil {
		delete(subscribers, connectionID)
		if len(subscribers) == 0 {
			delete(c.subscribers, roomID)
		}
	}
	memberships := c.memberships[connectionID]
	if memberships != nil {
		delete(memberships, roomID)
		if len(memberships) == 0 {
			delete(c.memberships, connectionID)
		}
	}
}

// UnsubscribeAll drops every subscription held by connectionID.
func (c *roomChannels) UnsubscribeAll(connectionID string) {
	for roomID := range c.memberships[connectionID] {
		c.Unsubscribe(roomID, connectionID)
	}
}

func (c *roomChannels) Count(roomID rooms.RoomID) int {
	return len(c.subscribers[roomID])
}

// Publish delivers frame to every subscriber of roomID except exceptConnectionID.
// Delivery is fire-and-forget; a refused frame is logged and dropped.
func (c *roomChannels) Publish(roomID rooms.RoomID, exceptConnectionID string, frame []byte) {
	for connectionID, conn := range c.subscribers[roomID] {
		if connectionID == exceptConnectionID {
			continue
		}
		if err := conn.Send(frame); err != nil {
			c.logger.Warn("dropped room frame",
				zap.String("room_id", roomID.String()),
				zap.String("connection_id", connectionID),
				zap.Error(err))
		}
	}
}
