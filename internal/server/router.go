package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tandem/internal/rooms"
	"github.com/MarcoPoloResearchLab/tandem/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wildcardOrigin      = "*"
	queryDisplayName    = "displayName"
	paramRoomID         = "roomId"
	errorRoomNotFound   = "room_not_found"
	errorInvalidRoomID  = "invalid_room_id"
	errorUnavailable    = "unavailable"
	headerOrigin        = "Origin"
	websocketBufferSize = 1024
)

var errMissingSessions = errors.New("sessions dependency required")

// Sessions is the serialized session loop the transport feeds.
type Sessions interface {
	Connect(conn session.Connection) error
	Disconnect(conn session.Connection) error
	HandleFrame(conn session.Connection, frame []byte) error
	Do(ctx context.Context, fn func(ctx context.Context, engine *session.Engine)) error
}

type Dependencies struct {
	Sessions       Sessions
	IDs            IDProvider
	Logger         *zap.Logger
	AllowedOrigins []string
	WebSocket      WebSocketConfig
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ids := deps.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}

	handler := &httpHandler{
		sessions:  deps.Sessions,
		ids:       ids,
		origins:   normalizeOrigins(deps.AllowedOrigins),
		websocket: deps.WebSocket.withDefaults(),
		logger:    logger,
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  websocketBufferSize,
		WriteBufferSize: websocketBufferSize,
		CheckOrigin:     handler.checkOrigin,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(handler.origins))

	router.GET("/ws", handler.handleWebSocket)
	router.GET("/healthz", handler.handleHealth)
	router.GET("/stats", handler.handleStats)
	router.GET("/rooms/:"+paramRoomID, handler.handleRoom)

	return router, nil
}

type httpHandler struct {
	sessions  Sessions
	ids       IDProvider
	origins   []string
	websocket WebSocketConfig
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, wildcardOrigin) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func normalizeOrigins(origins []string) []string {
	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

// checkOrigin admits non-browser clients, which send no Origin, and browsers
// on an allowed origin.
func (h *httpHandler) checkOrigin(request *http.Request) bool {
	origin := request.Header.Get(headerOrigin)
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	return slices.Contains(h.origins, wildcardOrigin) || slices.Contains(h.origins, origin)
}

func (h *httpHandler) handleWebSocket(c *gin.Context) {
	connectionID, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("failed to allocate connection id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorUnavailable})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(connectionID, c.Query(queryDisplayName), ws, h.sessions, h.websocket, h.logger)
	if err := h.sessions.Connect(conn); err != nil {
		h.logger.Warn("connection rejected", zap.String("connection_id", conn.ID()), zap.Error(err))
		conn.shutdown()
		return
	}
	conn.start()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statsResponsePayload struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
	Connections  int `json:"connections"`
}

func (h *httpHandler) handleStats(c *gin.Context) {
	var (
		stats    session.Stats
		statsErr error
	)
	err := h.sessions.Do(c.Request.Context(), func(ctx context.Context, engine *session.Engine) {
		stats, statsErr = engine.Stats(ctx)
	})
	if err == nil {
		err = statsErr
	}
	if err != nil {
		h.logger.Error("failed to collect stats", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errorUnavailable})
		return
	}

	c.JSON(http.StatusOK, statsResponsePayload{
		Rooms:        stats.Rooms,
		Participants: stats.Participants,
		Connections:  stats.Connections,
	})
}

type participantPayload struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type roomResponsePayload struct {
	RoomID       string               `json:"roomId"`
	Document     string               `json:"document"`
	Participants []participantPayload `json:"participants"`
}

func (h *httpHandler) handleRoom(c *gin.Context) {
	roomID, err := rooms.NewRoomID(c.Param(paramRoomID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRoomID})
		return
	}

	var (
		snapshot    session.RoomSnapshot
		found       bool
		snapshotErr error
	)
	err = h.sessions.Do(c.Request.Context(), func(ctx context.Context, engine *session.Engine) {
		snapshot, found, snapshotErr = engine.Snapshot(ctx, roomID)
	})
	if err == nil {
		err = snapshotErr
	}
	if err != nil {
		h.logger.Error("failed to read room", zap.String("room_id", roomID.String()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errorUnavailable})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": errorRoomNotFound})
		return
	}

	response := roomResponsePayload{
		RoomID:       snapshot.RoomID.String(),
		Document:     snapshot.Document,
		Participants: make([]participantPayload, 0, len(snapshot.Participants)),
	}
	for _, participant := range snapshot.Participants {
		response.Participants = append(response.Participants, participantPayload{
			ConnectionID: participant.ConnectionID,
			DisplayName:  participant.DisplayName,
			Color:        participant.Color,
			JoinedAt:     participant.JoinedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}
