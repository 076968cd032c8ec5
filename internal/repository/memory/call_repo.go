// Package memory holds in-process stores used when the database is
// unavailable at startup, and by tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"pulsechat-backend/internal/domain"
)

type directEntry struct {
	seq  int64
	call domain.DirectCall
}

// DirectCallRepository keeps direct call records in memory
type DirectCallRepository struct {
	mu    sync.RWMutex
	seq   int64
	calls map[uuid.UUID]*directEntry
}

// NewDirectCallRepository creates an empty repository
func NewDirectCallRepository() *DirectCallRepository {
	return &DirectCallRepository{calls: make(map[uuid.UUID]*directEntry)}
}

func (r *DirectCallRepository) Create(ctx context.Context, call *domain.DirectCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.calls[call.CallID] = &directEntry{seq: r.seq, call: cloneDirect(call)}
	return nil
}

func (r *DirectCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.DirectCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	c := cloneDirect(&e.call)
	return &c, nil
}

func (r *DirectCallRepository) FindLatest(ctx context.Context, callerID, calleeID uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error) {
	return r.latest(func(c *domain.DirectCall) bool {
		return c.CallerID == callerID && c.CalleeID == calleeID && hasStatus(c.Status, statuses)
	})
}

func (r *DirectCallRepository) FindLatestBetween(ctx context.Context, a, b uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error) {
	return r.latest(func(c *domain.DirectCall) bool {
		return c.HasParty(a) && c.HasParty(b) && hasStatus(c.Status, statuses)
	})
}

func (r *DirectCallRepository) FindLiveByParty(ctx context.Context, userID uuid.UUID) ([]*domain.DirectCall, error) {
	return r.sorted(func(c *domain.DirectCall) bool {
		return c.HasParty(userID) && c.Status.IsLive()
	}), nil
}

func (r *DirectCallRepository) Update(ctx context.Context, call *domain.DirectCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.calls[call.CallID]
	if !ok {
		return domain.ErrCallNotFound
	}
	e.call = cloneDirect(call)
	return nil
}

func (r *DirectCallRepository) ListBetween(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*domain.DirectCall, error) {
	all := r.sorted(func(c *domain.DirectCall) bool {
		return c.HasParty(a) && c.HasParty(b)
	})
	return page(all, limit, offset), nil
}

func (r *DirectCallRepository) latest(match func(*domain.DirectCall) bool) (*domain.DirectCall, error) {
	all := r.sorted(match)
	if len(all) == 0 {
		return nil, domain.ErrCallNotFound
	}
	return all[0], nil
}

// sorted returns copies of matching records, newest first
func (r *DirectCallRepository) sorted(match func(*domain.DirectCall) bool) []*domain.DirectCall {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*directEntry
	for _, e := range r.calls {
		if match(&e.call) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].call.CreatedAt.Equal(entries[j].call.CreatedAt) {
			return entries[i].call.CreatedAt.After(entries[j].call.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})
	out := make([]*domain.DirectCall, len(entries))
	for i, e := range entries {
		c := cloneDirect(&e.call)
		out[i] = &c
	}
	return out
}

type groupEntry struct {
	seq  int64
	call domain.GroupCall
}

// GroupCallRepository keeps group call records in memory
type GroupCallRepository struct {
	mu    sync.RWMutex
	seq   int64
	calls map[uuid.UUID]*groupEntry
}

// NewGroupCallRepository creates an empty repository
func NewGroupCallRepository() *GroupCallRepository {
	return &GroupCallRepository{calls: make(map[uuid.UUID]*groupEntry)}
}

func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.calls[call.CallID] = &groupEntry{seq: r.seq, call: cloneGroup(call)}
	return nil
}

func (r *GroupCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	c := cloneGroup(&e.call)
	return &c, nil
}

func (r *GroupCallRepository) FindLatestByGroup(ctx context.Context, groupID uuid.UUID) (*domain.GroupCall, error) {
	all := r.sorted(func(c *domain.GroupCall) bool { return c.GroupID == groupID })
	if len(all) == 0 {
		return nil, domain.ErrCallNotFound
	}
	return all[0], nil
}

func (r *GroupCallRepository) FindRunningByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.GroupCall, error) {
	return r.sorted(func(c *domain.GroupCall) bool {
		return c.IsRunning() && c.IsActiveParticipant(userID)
	}), nil
}

func (r *GroupCallRepository) Update(ctx context.Context, call *domain.GroupCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.calls[call.CallID]
	if !ok {
		return domain.ErrCallNotFound
	}
	e.call = cloneGroup(call)
	return nil
}

func (r *GroupCallRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.GroupCall, error) {
	all := r.sorted(func(c *domain.GroupCall) bool { return c.GroupID == groupID })
	return page(all, limit, offset), nil
}

func (r *GroupCallRepository) ListRunningByGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*domain.GroupCall, error) {
	wanted := make(map[uuid.UUID]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = struct{}{}
	}
	return r.sorted(func(c *domain.GroupCall) bool {
		_, ok := wanted[c.GroupID]
		return ok && c.IsRunning()
	}), nil
}

func (r *GroupCallRepository) sorted(match func(*domain.GroupCall) bool) []*domain.GroupCall {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*groupEntry
	for _, e := range r.calls {
		if match(&e.call) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].call.CreatedAt.Equal(entries[j].call.CreatedAt) {
			return entries[i].call.CreatedAt.After(entries[j].call.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})
	out := make([]*domain.GroupCall, len(entries))
	for i, e := range entries {
		c := cloneGroup(&e.call)
		out[i] = &c
	}
	return out
}

func hasStatus(s domain.CallStatus, statuses []domain.CallStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneDirect(c *domain.DirectCall) domain.DirectCall {
	out := *c
	out.StartedAt = cloneTime(c.StartedAt)
	out.EndedAt = cloneTime(c.EndedAt)
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	return out
}

func cloneGroup(c *domain.GroupCall) domain.GroupCall {
	out := *c
	out.ParticipantsAccepted = append([]uuid.UUID{}, c.ParticipantsAccepted...)
	out.ParticipantsActive = append([]uuid.UUID{}, c.ParticipantsActive...)
	out.StartedAt = cloneTime(c.StartedAt)
	out.EndedAt = cloneTime(c.EndedAt)
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	return out
}
