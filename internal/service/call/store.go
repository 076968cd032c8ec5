package call

import (
	"context"

	"github.com/google/uuid"

	"pulsechat-backend/internal/domain"
)

// DirectCallStore persists 1:1 call records.
// Lookups return domain.ErrCallNotFound when nothing matches.
type DirectCallStore interface {
	Create(ctx context.Context, call *domain.DirectCall) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.DirectCall, error)
	// FindLatest matches the exact (caller, callee) orientation
	FindLatest(ctx context.Context, callerID, calleeID uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error)
	// FindLatestBetween matches either orientation of the pair
	FindLatestBetween(ctx context.Context, a, b uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error)
	FindLiveByParty(ctx context.Context, userID uuid.UUID) ([]*domain.DirectCall, error)
	Update(ctx context.Context, call *domain.DirectCall) error
	ListBetween(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*domain.DirectCall, error)
}

// GroupCallStore persists group call records
type GroupCallStore interface {
	Create(ctx context.Context, call *domain.GroupCall) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error)
	// FindLatestByGroup returns the newest record by creation time
	FindLatestByGroup(ctx context.Context, groupID uuid.UUID) (*domain.GroupCall, error)
	// FindRunningByParticipant returns active, not ended calls listing userID as active
	FindRunningByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.GroupCall, error)
	Update(ctx context.Context, call *domain.GroupCall) error
	ListByGroup(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.GroupCall, error)
	ListRunningByGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*domain.GroupCall, error)
}
