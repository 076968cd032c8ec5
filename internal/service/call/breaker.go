package call

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"pulsechat-backend/internal/domain"
	"pulsechat-backend/pkg/constants"
	"pulsechat-backend/pkg/logger"
)

// ErrStoreUnavailable is returned while the breaker is open
var ErrStoreUnavailable = errors.New("call store unavailable")

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: constants.BreakerMaxRequests,
		Interval:    constants.BreakerInterval,
		Timeout:     constants.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= constants.BreakerFailureThreshold
		},
		// a lookup miss is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrCallNotFound) || errors.Is(err, domain.ErrGroupNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Call store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func guarded[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrStoreUnavailable
		}
		return zero, err
	}
	return res.(T), nil
}

func guardedErr(cb *gobreaker.CircuitBreaker[any], fn func() error) error {
	_, err := guarded(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// BreakerDirectStore wraps a DirectCallStore with a circuit breaker
type BreakerDirectStore struct {
	next DirectCallStore
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerDirectStore wraps next
func NewBreakerDirectStore(next DirectCallStore) *BreakerDirectStore {
	return &BreakerDirectStore{next: next, cb: newBreaker("direct-calls")}
}

func (s *BreakerDirectStore) Create(ctx context.Context, call *domain.DirectCall) error {
	return guardedErr(s.cb, func() error { return s.next.Create(ctx, call) })
}

func (s *BreakerDirectStore) GetByID(ctx context.Context, callID uuid.UUID) (*domain.DirectCall, error) {
	return guarded(s.cb, func() (*domain.DirectCall, error) { return s.next.GetByID(ctx, callID) })
}

func (s *BreakerDirectStore) FindLatest(ctx context.Context, callerID, calleeID uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error) {
	return guarded(s.cb, func() (*domain.DirectCall, error) {
		return s.next.FindLatest(ctx, callerID, calleeID, statuses...)
	})
}

func (s *BreakerDirectStore) FindLatestBetween(ctx context.Context, a, b uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error) {
	return guarded(s.cb, func() (*domain.DirectCall, error) {
		return s.next.FindLatestBetween(ctx, a, b, statuses...)
	})
}

func (s *BreakerDirectStore) FindLiveByParty(ctx context.Context, userID uuid.UUID) ([]*domain.DirectCall, error) {
	return guarded(s.cb, func() ([]*domain.DirectCall, error) { return s.next.FindLiveByParty(ctx, userID) })
}

func (s *BreakerDirectStore) Update(ctx context.Context, call *domain.DirectCall) error {
	return guardedErr(s.cb, func() error { return s.next.Update(ctx, call) })
}

func (s *BreakerDirectStore) ListBetween(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*domain.DirectCall, error) {
	return guarded(s.cb, func() ([]*domain.DirectCall, error) { return s.next.ListBetween(ctx, a, b, limit, offset) })
}

// BreakerGroupStore wraps a GroupCallStore with a circuit breaker
type BreakerGroupStore struct {
	next GroupCallStore
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerGroupStore wraps next
func NewBreakerGroupStore(next GroupCallStore) *BreakerGroupStore {
	return &BreakerGroupStore{next: next, cb: newBreaker("group-calls")}
}

func (s *BreakerGroupStore) Create(ctx context.Context, call *domain.GroupCall) error {
	return guardedErr(s.cb, func() error { return s.next.Create(ctx, call) })
}

func (s *BreakerGroupStore) GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error) {
	return guarded(s.cb, func() (*domain.GroupCall, error) { return s.next.GetByID(ctx, callID) })
}

func (s *BreakerGroupStore) FindLatestByGroup(ctx context.Context, groupID uuid.UUID) (*domain.GroupCall, error) {
	return guarded(s.cb, func() (*domain.GroupCall, error) { return s.next.FindLatestByGroup(ctx, groupID) })
}

func (s *BreakerGroupStore) FindRunningByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.GroupCall, error) {
	return guarded(s.cb, func() ([]*domain.GroupCall, error) { return s.next.FindRunningByParticipant(ctx, userID) })
}

func (s *BreakerGroupStore) Update(ctx context.Context, call *domain.GroupCall) error {
	return guardedErr(s.cb, func() error { return s.next.Update(ctx, call) })
}

func (s *BreakerGroupStore) ListByGroup(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.GroupCall, error) {
	return guarded(s.cb, func() ([]*domain.GroupCall, error) { return s.next.ListByGroup(ctx, groupID, limit, offset) })
}

func (s *BreakerGroupStore) ListRunningByGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*domain.GroupCall, error) {
	return guarded(s.cb, func() ([]*domain.GroupCall, error) { return s.next.ListRunningByGroups(ctx, groupIDs) })
}
