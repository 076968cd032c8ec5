package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsechat-backend/internal/domain"
)

// GroupRepository is an in-memory group directory
type GroupRepository struct {
	mu     sync.RWMutex
	groups map[uuid.UUID]domain.Group
}

// NewGroupRepository creates an empty directory
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{groups: make(map[uuid.UUID]domain.Group)}
}

// Put inserts or replaces a group
func (r *GroupRepository) Put(group domain.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group.Members = append([]uuid.UUID{}, group.Members...)
	r.groups[group.GroupID] = group
}

// Delete removes a group
func (r *GroupRepository) Delete(groupID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, groupID)
}

func (r *GroupRepository) GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	g.Members = append([]uuid.UUID{}, g.Members...)
	return &g, nil
}

func (r *GroupRepository) GetUserGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for id, g := range r.groups {
		if g.HasMember(userID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
