package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/core"
	"github.com/vovakirdan/supportline/internal/proto"
)

// RoomHandlers serves rooms, history and the queue from the hub.
type RoomHandlers struct {
	hub Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub: hub,
		log: logger,
	}
}

// statusFor maps a hub error onto an HTTP status.
func statusFor(err error) int {
	switch core.ErrorCode(err) {
	case core.ErrCodeBadRequest:
		return http.StatusBadRequest
	case core.ErrCodeForbidden:
		return http.StatusForbidden
	case core.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case core.ErrCodeRoomClosed, core.ErrCodeNotWaiting, core.ErrCodeAlreadyClaimed:
		return http.StatusConflict
	}
	if errors.Is(err, core.ErrHubStopped) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *RoomHandlers) fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(status, proto.ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(status, proto.ErrorResponse{Error: err.Error()})
}

func (h *RoomHandlers) caller(c *gin.Context) (proto.Sender, bool) {
	who, ok := identity(c)
	if !ok {
		h.log.Error().Msg("identity not found in context")
		c.JSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "unauthorized"})
	}
	return who, ok
}

// CreateRoom opens a support request.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	who, ok := h.caller(c)
	if !ok {
		return
	}

	var req proto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.hub.CreateRoom(c.Request.Context(), who, req.Topic, req.Urgency)
	if err != nil {
		h.fail(c, err, "failed to create room")
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListRooms lists the rooms the caller participates in.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	who, ok := h.caller(c)
	if !ok {
		return
	}
	rooms, err := h.hub.Rooms(c.Request.Context(), who)
	if err != nil {
		h.fail(c, err, "failed to list rooms")
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// History returns a room's messages.
// GET /api/rooms/:id/messages
func (h *RoomHandlers) History(c *gin.Context) {
	who, ok := h.caller(c)
	if !ok {
		return
	}
	messages, err := h.hub.History(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to load history")
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Resolve marks a room RESOLVED.
// POST /api/rooms/:id/resolve
func (h *RoomHandlers) Resolve(c *gin.Context) {
	h.transition(c, proto.StatusResolved)
}

// Close marks a room CLOSED.
// POST /api/rooms/:id/close
func (h *RoomHandlers) Close(c *gin.Context) {
	h.transition(c, proto.StatusClosed)
}

func (h *RoomHandlers) transition(c *gin.Context, status proto.RoomStatus) {
	who, ok := h.caller(c)
	if !ok {
		return
	}
	room, err := h.hub.Transition(c.Request.Context(), who, c.Param("id"), status)
	if err != nil {
		h.fail(c, err, "failed to change room status")
		return
	}
	c.JSON(http.StatusOK, room)
}

// Queue returns the waiting queue.
// GET /api/queue
func (h *RoomHandlers) Queue(c *gin.Context) {
	who, ok := h.caller(c)
	if !ok {
		return
	}
	entries, err := h.hub.QueueSnapshot(c.Request.Context(), who)
	if err != nil {
		h.fail(c, err, "failed to load queue")
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Metrics returns the dashboard snapshot.
// GET /api/admin/metrics
func (h *RoomHandlers) Metrics(c *gin.Context) {
	who, ok := h.caller(c)
	if !ok {
		return
	}
	snap, err := h.hub.Metrics(c.Request.Context(), who)
	if err != nil {
		h.fail(c, err, "failed to compute metrics")
		return
	}
	c.JSON(http.StatusOK, snap)
}
