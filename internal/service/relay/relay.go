// Package relay forwards signaling payloads to users' live connections.
package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat-backend/internal/domain"
	"pulsechat-backend/internal/service/presence"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/metrics"
)

// GroupDirectory resolves a group's current member list.
// Implementations return domain.ErrGroupNotFound for unknown groups.
type GroupDirectory interface {
	GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
}

// Relay delivers events through the presence registry. A target without a
// live connection is skipped silently: there is no queueing and no retry.
type Relay struct {
	registry *presence.Registry
	groups   GroupDirectory
	metrics  *metrics.Metrics
}

// New creates a relay. metrics may be nil.
func New(registry *presence.Registry, groups GroupDirectory, m *metrics.Metrics) *Relay {
	return &Relay{
		registry: registry,
		groups:   groups,
		metrics:  m,
	}
}

// ToUser emits on the user's delivery handle and reports whether it was delivered
func (r *Relay) ToUser(userID uuid.UUID, event string, payload any) bool {
	conn, ok := r.registry.DeliveryHandle(userID)
	if !ok {
		r.metrics.RecordEventDropped(event)
		logger.Debug("Relay target offline, dropping event",
			zap.String("event", event),
			zap.String("user_id", userID.String()))
		return false
	}
	return r.emit(conn, event, payload)
}

// ToGroup emits to every current member of groupID except `except`
// (uuid.Nil excludes nobody). Membership is looked up on every call.
func (r *Relay) ToGroup(ctx context.Context, groupID, except uuid.UUID, event string, payload any) (int, error) {
	group, err := r.groups.GetGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve group members: %w", err)
	}
	return r.ToMembers(group.Members, except, event, payload), nil
}

// ToMembers is ToGroup for an already resolved member list
func (r *Relay) ToMembers(members []uuid.UUID, except uuid.UUID, event string, payload any) int {
	delivered := 0
	for _, memberID := range members {
		if memberID == except {
			continue
		}
		if r.ToUser(memberID, event, payload) {
			delivered++
		}
	}
	return delivered
}

// Broadcast emits to every open connection
func (r *Relay) Broadcast(event string, payload any) int {
	delivered := 0
	for _, conn := range r.registry.Conns() {
		if r.emit(conn, event, payload) {
			delivered++
		}
	}
	return delivered
}

// Reply emits directly on conn, bypassing the registry lookup
func (r *Relay) Reply(conn presence.Conn, event string, payload any) bool {
	return r.emit(conn, event, payload)
}

func (r *Relay) emit(conn presence.Conn, event string, payload any) bool {
	if err := conn.Emit(event, payload); err != nil {
		r.metrics.RecordEventDropped(event)
		logger.Debug("Failed to emit event",
			zap.String("event", event),
			zap.String("conn_id", conn.ConnID()),
			zap.Error(err))
		return false
	}
	r.metrics.RecordEventRelayed(event)
	return true
}
