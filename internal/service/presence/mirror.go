package presence

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat-backend/pkg/logger"
)

// MirrorStore is an external copy of the online set
type MirrorStore interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	ClearOnline(ctx context.Context) error
}

// Mirror copies registry changes into a MirrorStore off the signaling path.
// Only the newest snapshot is kept while a sync is in progress.
type Mirror struct {
	store    MirrorStore
	pending  chan []uuid.UUID
	mirrored map[uuid.UUID]struct{}
}

// NewMirror creates a Mirror. Subscribe Observe to a Registry and start Run.
func NewMirror(store MirrorStore) *Mirror {
	return &Mirror{
		store:    store,
		pending:  make(chan []uuid.UUID, 1),
		mirrored: make(map[uuid.UUID]struct{}),
	}
}

// Observe is a registry Observer. It never blocks.
func (m *Mirror) Observe(online []uuid.UUID) {
	for {
		select {
		case m.pending <- online:
			return
		default:
		}
		// drop the stale snapshot and retry
		select {
		case <-m.pending:
		default:
		}
	}
}

// Run clears the store and then applies snapshots until ctx is done
func (m *Mirror) Run(ctx context.Context) {
	if err := m.store.ClearOnline(ctx); err != nil {
		logger.Warn("Failed to clear mirrored presence", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-m.pending:
			m.sync(ctx, online)
		}
	}
}

func (m *Mirror) sync(ctx context.Context, online []uuid.UUID) {
	current := make(map[uuid.UUID]struct{}, len(online))
	for _, id := range online {
		current[id] = struct{}{}
		if _, ok := m.mirrored[id]; ok {
			continue
		}
		if err := m.store.SetUserOnline(ctx, id); err != nil {
			logger.Debug("Failed to mirror user online",
				zap.String("user_id", id.String()),
				zap.Error(err))
			continue
		}
		m.mirrored[id] = struct{}{}
	}

	for id := range m.mirrored {
		if _, ok := current[id]; ok {
			continue
		}
		if err := m.store.SetUserOffline(ctx, id); err != nil {
			logger.Debug("Failed to mirror user offline",
				zap.String("user_id", id.String()),
				zap.Error(err))
			continue
		}
		delete(m.mirrored, id)
	}
}
