package call

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat-backend/internal/domain"
	"pulsechat-backend/internal/middleware"
	apperrors "pulsechat-backend/pkg/errors"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/pagination"
	"pulsechat-backend/pkg/response"
)

// DirectCallLog lists 1:1 call records
type DirectCallLog interface {
	ListBetween(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*domain.DirectCall, error)
}

// GroupCallLog lists group call records
type GroupCallLog interface {
	ListByGroup(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.GroupCall, error)
	ListRunningByGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*domain.GroupCall, error)
}

// GroupDirectory resolves groups and memberships
type GroupDirectory interface {
	GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
	GetUserGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Handler serves call history
type Handler struct {
	direct DirectCallLog
	group  GroupCallLog
	groups GroupDirectory
}

// NewHandler creates a new call history handler
func NewHandler(direct DirectCallLog, group GroupCallLog, groups GroupDirectory) *Handler {
	return &Handler{
		direct: direct,
		group:  group,
		groups: groups,
	}
}

// RegisterRoutes mounts the call history routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/calls/:userId", h.ListDirectCalls)
	rg.GET("/group-calls/active/me", h.ListActiveGroupCalls)
	rg.GET("/group-calls/:groupId", h.ListGroupCalls)
}

// ListDirectCalls returns calls between the caller and another user
// GET /v1/calls/:userId
func (h *Handler) ListDirectCalls(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	peerID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	page, err := pagination.Parse(c.Query("limit"), c.Query("offset"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.direct.ListBetween(c.Request.Context(), userID, peerID, page.Limit, page.Offset)
	if err != nil {
		logger.Error("Failed to list direct calls",
			zap.String("user_id", userID.String()),
			zap.String("peer_id", peerID.String()),
			zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}
	if calls == nil {
		calls = []*domain.DirectCall{}
	}

	response.Success(c, http.StatusOK, pagination.NewPage(page, calls, len(calls)))
}

// ListGroupCalls returns a group's call log
// GET /v1/group-calls/:groupId
func (h *Handler) ListGroupCalls(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		response.ValidationError(c, "Invalid group ID")
		return
	}

	page, err := pagination.Parse(c.Query("limit"), c.Query("offset"))
	if err != nil {
		response.ValidationError(c, err.Error())
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
	if !group.HasMember(userID) {
		response.FromError(c, apperrors.NotGroupMemberError())
		return
	}

	calls, err := h.group.ListByGroup(c.Request.Context(), groupID, page.Limit, page.Offset)
	if err != nil {
		logger.Error("Failed to list group calls", zap.String("group_id", groupID.String()), zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}
	if calls == nil {
		calls = []*domain.GroupCall{}
	}

	response.Success(c, http.StatusOK, pagination.NewPage(page, calls, len(calls)))
}

// ListActiveGroupCalls returns running calls in every group the caller belongs to
// GET /v1/group-calls/active/me
func (h *Handler) ListActiveGroupCalls(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	groupIDs, err := h.groups.GetUserGroupIDs(c.Request.Context(), userID)
	if err != nil {
		logger.Error("Failed to load user groups", zap.String("user_id", userID.String()), zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}

	calls, err := h.group.ListRunningByGroups(c.Request.Context(), groupIDs)
	if err != nil {
		logger.Error("Failed to list active group calls", zap.String("user_id", userID.String()), zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}
	if calls == nil {
		calls = []*domain.GroupCall{}
	}

	response.Success(c, http.StatusOK, calls)
}
