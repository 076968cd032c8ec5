package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"pulsechat-backend/internal/service/presence/presencetest"
)

// MockMirrorStore is a mock implementation of MirrorStore
type MockMirrorStore struct {
	mock.Mock
}

func (m *MockMirrorStore) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockMirrorStore) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockMirrorStore) ClearOnline(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestMirror_SyncAppliesDifferences(t *testing.T) {
	store := new(MockMirrorStore)
	mirror := NewMirror(store)
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	store.On("SetUserOnline", ctx, a).Return(nil).Once()
	store.On("SetUserOnline", ctx, b).Return(nil).Once()
	mirror.sync(ctx, []uuid.UUID{a, b})

	store.On("SetUserOnline", ctx, c).Return(nil).Once()
	store.On("SetUserOffline", ctx, a).Return(nil).Once()
	mirror.sync(ctx, []uuid.UUID{b, c})

	store.AssertExpectations(t)
	assert.Len(t, mirror.mirrored, 2)
}

func TestMirror_FailedWritesAreRetriedNextSync(t *testing.T) {
	store := new(MockMirrorStore)
	mirror := NewMirror(store)
	ctx := context.Background()
	a := uuid.New()

	store.On("SetUserOnline", ctx, a).Return(errors.New("degraded")).Once()
	mirror.sync(ctx, []uuid.UUID{a})
	assert.Empty(t, mirror.mirrored)

	store.On("SetUserOnline", ctx, a).Return(nil).Once()
	mirror.sync(ctx, []uuid.UUID{a})
	assert.Len(t, mirror.mirrored, 1)
	store.AssertExpectations(t)
}

func TestMirror_ObserveKeepsNewestSnapshot(t *testing.T) {
	mirror := NewMirror(new(MockMirrorStore))
	first, second := []uuid.UUID{uuid.New()}, []uuid.UUID{uuid.New()}

	mirror.Observe(first)
	mirror.Observe(second)

	assert.Equal(t, second, <-mirror.pending)
}

func TestMirror_RunFollowsRegistry(t *testing.T) {
	store := new(MockMirrorStore)
	mirror := NewMirror(store)
	registry := NewRegistry()
	registry.Subscribe(mirror.Observe)
	user := uuid.New()

	synced := make(chan struct{})
	store.On("ClearOnline", mock.Anything).Return(nil)
	store.On("SetUserOnline", mock.Anything, user).Return(nil).Run(func(mock.Arguments) { close(synced) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mirror.Run(ctx)

	registry.Register(user, presencetest.NewConn())
	<-synced
	store.AssertExpectations(t)
}
