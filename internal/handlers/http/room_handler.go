package http

import (
	"net/http"
	"strings"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/internal/core/services"
	"meetsignal/internal/infrastructure/middleware"
	"meetsignal/pkg/errors"
	"meetsignal/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// broadcastable lists the events moderators may push into a room over HTTP.
var broadcastable = map[domain.EventType]bool{
	domain.EventMuteAll:          true,
	domain.EventRequestInfo:      true,
	domain.EventChatMessage:      true,
	domain.EventWhiteboardClosed: true,
	domain.EventMeetingEnded:     true,
}

// RoomHandler exposes moderation, approvals and breakouts to callers outside
// the room socket.
type RoomHandler struct {
	admission  ports.AdmissionService
	approvals  ports.ApprovalService
	breakouts  ports.BreakoutService
	moderation ports.ModerationService
	roster     ports.Roster
	logger     *zap.SugaredLogger
}

func NewRoomHandler(
	admission ports.AdmissionService,
	approvals ports.ApprovalService,
	breakouts ports.BreakoutService,
	moderation ports.ModerationService,
	roster ports.Roster,
	logger *zap.SugaredLogger,
) *RoomHandler {
	return &RoomHandler{
		admission:  admission,
		approvals:  approvals,
		breakouts:  breakouts,
		moderation: moderation,
		roster:     roster,
		logger:     logger,
	}
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter, authService services.AuthService) {
	router.POST("/api/v1/guests", guestSession(authService))

	rooms := router.Group("/api/v1/rooms/:room_id")

	public := rooms.Group("", middleware.OptionalAuthMiddleware(authService))
	{
		public.GET("/presence", h.Presence)
		public.GET("/breakouts", h.ListBreakouts)
		public.POST("/approvals/request", h.RequestJoin)
	}

	moderated := rooms.Group("", middleware.AuthMiddleware(authService))
	{
		moderated.POST("/approvals/decision", h.Decide)
		moderated.POST("/kick", h.Kick)
		moderated.POST("/end", h.EndMeeting)
		moderated.POST("/broadcast", h.Broadcast)
		moderated.POST("/breakouts", h.CreateBreakouts)
		moderated.POST("/breakouts/assign", h.AssignBreakouts)
		moderated.DELETE("/breakouts", h.CloseBreakouts)
	}
}

// roomID reads the room code from the path. Breakout suffixes are socket-only.
func roomID(c *gin.Context) (domain.RoomID, bool) {
	rc, err := validation.ParseRoomCode(c.Param("room_id"))
	if err != nil || rc.BreakoutID != "" {
		_ = c.Error(errors.NewInvalidInputError("invalid room code"))
		return "", false
	}
	if rc.Sequence != "" {
		return domain.RoomID(rc.Base + "-" + rc.Sequence), true
	}
	return domain.RoomID(rc.Base), true
}

// actor is the authenticated caller plus the moderator link token, if sent.
func actor(c *gin.Context) domain.Actor {
	id, _ := middleware.Participant(c)
	token := c.GetHeader("X-Room-Token")
	if token == "" {
		token = c.Query("token")
	}
	return domain.Actor{ParticipantID: id, LinkToken: token}
}

func fail(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
}

func (h *RoomHandler) Presence(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}

	count, err := h.admission.Presence(c.Request.Context(), room)
	if err != nil {
		fail(c, err)
		return
	}

	participants, err := h.roster.List(c.Request.Context(), room)
	if err != nil {
		h.logger.Warnw("Roster unavailable", "room_id", room, "error", err)
		participants = []domain.Participant{}
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":      room,
		"count":        count,
		"participants": participants,
	})
}

func (h *RoomHandler) ListBreakouts(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	list, err := h.breakouts.List(c.Request.Context(), room)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": room, "breakouts": list})
}

// guestSession issues a guest id to a lobby page that has no room socket yet.
func guestSession(auth services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, token, err := auth.IssueGuest()
		if err != nil {
			_ = c.Error(errors.NewInternalError("failed to issue guest session"))
			return
		}
		c.JSON(http.StatusCreated, domain.GuestSessionPayload{UserID: id, GuestToken: token})
	}
}

type joinRequestBody struct {
	DisplayName string `json:"display_name"`
}

// RequestJoin lets a lobby page ask for access. Callers always request for
// the identity their account or guest token proves.
func (h *RoomHandler) RequestJoin(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}

	var req joinRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	participant, ok := middleware.Participant(c)
	if !ok {
		_ = c.Error(errors.NewUnauthorizedError("account or guest token required"))
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if err := validation.ValidateDisplayName(name); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if name == "" {
		name = c.GetString(middleware.ContextUsername)
	}

	err := h.approvals.RequestJoin(c.Request.Context(), domain.JoinRequest{
		RoomID:        room,
		ParticipantID: participant,
		DisplayName:   name,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested", "participant_id": participant})
}

type decisionBody struct {
	ParticipantID domain.ParticipantID `json:"participant_id" binding:"required"`
	Approved      bool                 `json:"approved"`
}

func (h *RoomHandler) Decide(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	var req decisionBody
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("participant_id is required"))
		return
	}

	if err := h.approvals.Decide(c.Request.Context(), room, actor(c), req.ParticipantID, req.Approved); err != nil {
		fail(c, err)
		return
	}

	status := "denied"
	if req.Approved {
		status = "approved"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "participant_id": req.ParticipantID})
}

type kickBody struct {
	ParticipantID domain.ParticipantID `json:"participant_id" binding:"required"`
}

func (h *RoomHandler) Kick(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	var req kickBody
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("participant_id is required"))
		return
	}
	if err := h.moderation.Kick(c.Request.Context(), room, actor(c), req.ParticipantID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "participant_id": req.ParticipantID})
}

func (h *RoomHandler) EndMeeting(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	if err := h.moderation.EndMeeting(c.Request.Context(), room, actor(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

type broadcastBody struct {
	Type domain.EventType `json:"type" binding:"required"`
	Data map[string]any   `json:"data"`
}

// Broadcast pushes one catalogue event into the room on a moderator's behalf.
func (h *RoomHandler) Broadcast(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	var req broadcastBody
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if !broadcastable[req.Type] {
		_ = c.Error(errors.NewInvalidInputError("event type cannot be broadcast").WithContext("type", req.Type))
		return
	}

	a := actor(c)
	payload := map[string]any{}
	for k, v := range req.Data {
		if k != "type" {
			payload[k] = v
		}
	}
	payload["moderator_id"] = a.ParticipantID

	ev, err := domain.NewEvent(req.Type, payload)
	if err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := h.moderation.Broadcast(c.Request.Context(), room, a, ev); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "type": req.Type})
}

type createBreakoutsBody struct {
	Names []string `json:"names" binding:"required"`
}

func (h *RoomHandler) CreateBreakouts(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	var req createBreakoutsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("names are required"))
		return
	}
	created, err := h.breakouts.Create(c.Request.Context(), room, actor(c), req.Names)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room_id": room, "breakouts": created})
}

type assignBreakoutsBody struct {
	Assignments []domain.Assignment `json:"assignments" binding:"required"`
}

func (h *RoomHandler) AssignBreakouts(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	var req assignBreakoutsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("assignments are required"))
		return
	}
	if err := h.breakouts.Assign(c.Request.Context(), room, actor(c), req.Assignments); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "assigned", "count": len(req.Assignments)})
}

func (h *RoomHandler) CloseBreakouts(c *gin.Context) {
	room, ok := roomID(c)
	if !ok {
		return
	}
	closed, err := h.breakouts.CloseAll(c.Request.Context(), room, actor(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": room, "closed": len(closed), "breakouts": closed})
}
