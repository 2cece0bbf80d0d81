package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/service"
)

// RoomHandler serves room metadata and the pre-connect join check.
type RoomHandler struct {
	roomService     *service.RoomService
	presence        *service.PresenceService
	tokens          *service.TokenService
	snapshotService *service.SnapshotService // nil when archiving is disabled
}

// NewRoomHandler creates a RoomHandler. snapshots may be nil.
func NewRoomHandler(
	roomService *service.RoomService,
	presence *service.PresenceService,
	tokens *service.TokenService,
	snapshots *service.SnapshotService,
) *RoomHandler {
	if roomService == nil || presence == nil {
		panic("RoomService and PresenceService cannot be nil for RoomHandler")
	}
	return &RoomHandler{
		roomService:     roomService,
		presence:        presence,
		tokens:          tokens,
		snapshotService: snapshots,
	}
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID string       `json:"room_id"`
	Room   *domain.Room `json:"room"`
}

// CreateRoom handles POST /api/rooms.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	room, err := h.roomService.CreateRoom(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{RoomID: room.ID, Room: room})
}

// GetRoom handles GET /api/rooms/:roomId.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.roomService.FindRoomByID(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, room)
}

// JoinRoomRequest is the body of the pre-connect join check.
type JoinRoomRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// JoinRoomResponse carries the room and, when tokens are enabled, the session token
// the realtime channel expects.
type JoinRoomResponse struct {
	Room        *domain.Room `json:"room"`
	PlayerToken string       `json:"player_token,omitempty"`
}

// JoinRoom handles POST /api/rooms/:roomId/join. It checks that the realtime join
// would be accepted but does not change the room.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	logCtx := logrus.WithField("room_id", roomID)

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: player_id and name are required")
		return
	}
	if _, err := service.NormalizeName(req.Name); err != nil {
		HandleServiceError(c, err)
		return
	}
	logCtx = logCtx.WithField("player_id", req.PlayerID)

	room, err := h.presence.CheckJoin(c.Request.Context(), roomID, req.PlayerID)
	if err != nil {
		logCtx.WithError(err).Info("Handler.JoinRoom: Join rejected")
		HandleServiceError(c, err)
		return
	}

	token, err := h.tokens.Issue(roomID, req.PlayerID)
	if err != nil {
		logCtx.WithError(err).Error("Handler.JoinRoom: Failed to issue player token")
		HandleServiceError(c, err)
		return
	}
	logCtx.Debug("Handler.JoinRoom: Join accepted")
	SuccessResponse(c, http.StatusOK, JoinRoomResponse{Room: room, PlayerToken: token})
}

// SnapshotResponse is an archived grid.
type SnapshotResponse struct {
	RoomID     string      `json:"room_id"`
	Generation uint64      `json:"generation"`
	Grid       domain.Grid `json:"grid"`
	CreatedAt  string      `json:"created_at"`
}

// GetLatestSnapshot handles GET /api/rooms/:roomId/snapshot.
func (h *RoomHandler) GetLatestSnapshot(c *gin.Context) {
	if h.snapshotService == nil {
		HandleServiceError(c, service.ErrSnapshotNotFound)
		return
	}
	snap, err := h.snapshotService.LatestSnapshot(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	grid, err := snap.ParseGrid()
	if err != nil {
		logrus.WithField("room_id", snap.RoomID).WithError(err).Error("Handler.GetLatestSnapshot: Corrupt snapshot")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, SnapshotResponse{
		RoomID:     snap.RoomID,
		Generation: snap.Generation,
		Grid:       grid,
		CreatedAt:  snap.CreatedAt.UTC().Format(time.RFC3339),
	})
}
