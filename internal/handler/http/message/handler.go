package message

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat-backend/internal/domain"
	"pulsechat-backend/internal/middleware"
	"pulsechat-backend/internal/protocol"
	"pulsechat-backend/internal/service/relay"
	"pulsechat-backend/pkg/constants"
	apperrors "pulsechat-backend/pkg/errors"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/response"
	"pulsechat-backend/pkg/sanitize"
)

// MessageStore persists accepted messages
type MessageStore interface {
	Save(ctx context.Context, message *domain.Message) error
}

// GroupDirectory resolves a group's member list
type GroupDirectory interface {
	GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
}

// Handler accepts chat messages and pushes them to online recipients
type Handler struct {
	store  MessageStore
	groups GroupDirectory
	relay  *relay.Relay
	now    func() time.Time
}

// NewHandler creates a new message handler
func NewHandler(store MessageStore, groups GroupDirectory, r *relay.Relay) *Handler {
	return &Handler{
		store:  store,
		groups: groups,
		relay:  r,
		now:    time.Now,
	}
}

// RegisterRoutes mounts the send routes behind the given limiter chain
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, limiters ...gin.HandlerFunc) {
	send := rg.Group("", limiters...)
	send.POST("/messages/:receiverId", h.SendDirect)
	send.POST("/group-messages/:groupId", h.SendGroup)
}

// SendDirect stores a 1:1 message and relays it to the receiver
// POST /v1/messages/:receiverId
func (h *Handler) SendDirect(c *gin.Context) {
	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	receiverID, err := uuid.Parse(c.Param("receiverId"))
	if err != nil {
		response.ValidationError(c, "Invalid receiver ID")
		return
	}

	req, ok := bindMessage(c)
	if !ok {
		return
	}

	msg := &domain.Message{
		MessageID:  uuid.New(),
		SenderID:   senderID,
		ReceiverID: &receiverID,
		Text:       req.Text,
		Image:      req.Image,
		CreatedAt:  h.now().UTC(),
	}
	if err := h.store.Save(c.Request.Context(), msg); err != nil {
		logger.Error("Failed to save message",
			zap.String("sender_id", senderID.String()),
			zap.String("receiver_id", receiverID.String()),
			zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}

	h.relay.ToUser(receiverID, protocol.EventNewMessage, msg)

	response.Success(c, http.StatusCreated, msg)
}

// SendGroup stores a group message and fans it out to the other members
// POST /v1/group-messages/:groupId
func (h *Handler) SendGroup(c *gin.Context) {
	senderID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		response.ValidationError(c, "Invalid group ID")
		return
	}

	req, ok := bindMessage(c)
	if !ok {
		return
	}

	group, err := h.groups.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			response.FromError(c, apperrors.GroupNotFoundError())
			return
		}
		logger.Error("Failed to load group", zap.String("group_id", groupID.String()), zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}
	if !group.HasMember(senderID) {
		response.FromError(c, apperrors.NotGroupMemberError())
		return
	}

	msg := &domain.Message{
		MessageID: uuid.New(),
		SenderID:  senderID,
		GroupID:   &groupID,
		Text:      req.Text,
		Image:     req.Image,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.Save(c.Request.Context(), msg); err != nil {
		logger.Error("Failed to save group message",
			zap.String("sender_id", senderID.String()),
			zap.String("group_id", groupID.String()),
			zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}

	h.relay.ToMembers(group.Members, senderID, protocol.EventGroupNewMessage, msg)

	response.Success(c, http.StatusCreated, msg)
}

func bindMessage(c *gin.Context) (domain.MessageCreate, bool) {
	var req domain.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Invalid request body")
		return req, false
	}

	req.Text = sanitize.MessageText(req.Text)
	req.Image = strings.TrimSpace(req.Image)
	if req.Text == "" && req.Image == "" {
		response.ValidationError(c, "Message text or image is required")
		return req, false
	}
	if !sanitize.ValidateStringLength(req.Text, 0, constants.MaxMessageLength) {
		response.ValidationError(c, "Message is too long")
		return req, false
	}
	return req, true
}
