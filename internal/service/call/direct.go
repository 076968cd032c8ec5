// Package call implements the 1:1 and group call life-cycle state machines.
package call

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat-backend/internal/domain"
	"pulsechat-backend/internal/protocol"
	"pulsechat-backend/internal/service/relay"
	"pulsechat-backend/pkg/logger"
)

const kindDirect = "direct"

// DirectMachine drives DirectCall records from the caller/callee events and
// relays each event to the other party.
type DirectMachine struct {
	store DirectCallStore
	relay *relay.Relay
	locks *keyedMutex
	opts  machineOptions
}

// NewDirectMachine creates a DirectMachine
func NewDirectMachine(store DirectCallStore, r *relay.Relay, opts ...Option) *DirectMachine {
	return &DirectMachine{
		store: store,
		relay: r,
		locks: newKeyedMutex(),
		opts:  buildOptions(opts),
	}
}

// Request creates a ringing record and rings the callee. The returned record
// carries the new call id even when it could not be persisted.
func (m *DirectMachine) Request(ctx context.Context, callerID uuid.UUID, in protocol.CallRequest) *domain.DirectCall {
	calleeID := in.ToUserID
	if calleeID == uuid.Nil || calleeID == callerID {
		return nil
	}

	unlock := m.locks.Lock(pairKey(callerID, calleeID))
	defer unlock()

	call := &domain.DirectCall{
		CallID:    uuid.New(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		Type:      domain.ParseCallType(in.CallType),
		Status:    domain.CallStatusRinging,
		CreatedAt: m.opts.now(),
	}

	sctx, cancel := m.opts.storeContext(ctx)
	err := m.store.Create(sctx, call)
	cancel()
	if err != nil {
		m.opts.persistFailed(kindDirect, "create", call.CallID, err)
	} else {
		m.opts.metrics.RecordCallTransition(kindDirect, string(call.Status))
	}

	m.relay.ToUser(calleeID, protocol.EventCallIncoming, protocol.IncomingCall{
		CallID:   &call.CallID,
		FromUser: in.FromUser,
		CallType: string(call.Type),
		Offer:    in.Offer,
	})
	return call
}

// Accept moves the caller's latest ringing call to this callee into active
func (m *DirectMachine) Accept(ctx context.Context, calleeID uuid.UUID, in protocol.CallAnswer) *domain.DirectCall {
	callerID := in.ToUserID
	if callerID == uuid.Nil {
		return nil
	}

	unlock := m.locks.Lock(pairKey(callerID, calleeID))
	defer unlock()

	call := m.resolve(ctx, in.CallID,
		func(c *domain.DirectCall) bool {
			return c.CallerID == callerID && c.CalleeID == calleeID && c.Status == domain.CallStatusRinging
		},
		func(sctx context.Context) (*domain.DirectCall, error) {
			return m.store.FindLatest(sctx, callerID, calleeID, domain.CallStatusRinging)
		})

	if call != nil {
		now := m.opts.now()
		call.Status = domain.CallStatusActive
		call.StartedAt = &now
		m.save(ctx, call, "accept")
	}

	m.relay.ToUser(callerID, protocol.EventCallAccepted, protocol.CallAccepted{
		CallID:     callIDOf(call, in.CallID),
		FromUserID: calleeID,
		Answer:     in.Answer,
	})
	return call
}

// Decline marks the caller's latest live call to this callee as missed
func (m *DirectMachine) Decline(ctx context.Context, calleeID uuid.UUID, in protocol.CallTarget) *domain.DirectCall {
	callerID := in.ToUserID
	if callerID == uuid.Nil {
		return nil
	}

	unlock := m.locks.Lock(pairKey(callerID, calleeID))
	defer unlock()

	call := m.resolve(ctx, in.CallID,
		func(c *domain.DirectCall) bool {
			return c.CallerID == callerID && c.CalleeID == calleeID && c.Status.IsLive()
		},
		func(sctx context.Context) (*domain.DirectCall, error) {
			return m.store.FindLatest(sctx, callerID, calleeID, domain.CallStatusRinging, domain.CallStatusActive)
		})

	if call != nil {
		now := m.opts.now()
		call.Status = domain.CallStatusMissed
		call.EndedAt = &now
		m.save(ctx, call, "decline")
	}

	m.relay.ToUser(callerID, protocol.EventCallDeclined, protocol.CallClosed{
		CallID:     callIDOf(call, in.CallID),
		FromUserID: calleeID,
	})
	return call
}

// End finishes the latest live call between the two parties, in either
// direction, and tells the other party who ended it.
func (m *DirectMachine) End(ctx context.Context, userID uuid.UUID, in protocol.CallTarget) *domain.DirectCall {
	peerID := in.ToUserID
	if peerID == uuid.Nil {
		return nil
	}

	unlock := m.locks.Lock(pairKey(userID, peerID))
	defer unlock()

	call := m.resolve(ctx, in.CallID,
		func(c *domain.DirectCall) bool {
			return c.HasParty(userID) && c.HasParty(peerID) && c.Status.IsLive()
		},
		func(sctx context.Context) (*domain.DirectCall, error) {
			return m.store.FindLatestBetween(sctx, userID, peerID, domain.CallStatusRinging, domain.CallStatusActive)
		})

	m.finish(ctx, call)

	m.relay.ToUser(peerID, protocol.EventCallEnd, protocol.CallClosed{
		CallID:     callIDOf(call, in.CallID),
		FromUserID: userID,
	})
	return call
}

// HandleDisconnect ends every live call userID is a party to, as if the user
// had sent call:end to each peer. Only wired when end-on-disconnect is enabled.
func (m *DirectMachine) HandleDisconnect(ctx context.Context, userID uuid.UUID) int {
	sctx, cancel := m.opts.storeContext(ctx)
	calls, err := m.store.FindLiveByParty(sctx, userID)
	cancel()
	if err != nil {
		logger.Warn("Failed to load live direct calls for disconnect cleanup",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return 0
	}

	ended := 0
	for _, c := range calls {
		peerID := c.CalleeID
		if peerID == userID {
			peerID = c.CallerID
		}
		callID := c.CallID
		if m.End(ctx, userID, protocol.CallTarget{ToUserID: peerID, CallID: &callID}) != nil {
			ended++
		}
	}
	return ended
}

func (m *DirectMachine) finish(ctx context.Context, call *domain.DirectCall) {
	if call == nil {
		return
	}
	call.Finish(m.opts.now())
	if m.save(ctx, call, "end") && call.DurationSeconds != nil {
		m.opts.metrics.RecordCallDuration(kindDirect, *call.DurationSeconds)
	}
}

// resolve loads the record an event refers to. An explicit call id is used
// when the client sent one; otherwise the latest matching record is used.
func (m *DirectMachine) resolve(
	ctx context.Context,
	callID *uuid.UUID,
	matches func(*domain.DirectCall) bool,
	latest func(context.Context) (*domain.DirectCall, error),
) *domain.DirectCall {
	sctx, cancel := m.opts.storeContext(ctx)
	defer cancel()

	var (
		call *domain.DirectCall
		err  error
	)
	if callID != nil && *callID != uuid.Nil {
		call, err = m.store.GetByID(sctx, *callID)
	} else {
		call, err = latest(sctx)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrCallNotFound) {
			m.opts.persistFailed(kindDirect, "lookup", uuidOrNil(callID), err)
		}
		return nil
	}
	if !matches(call) {
		return nil
	}
	return call
}

func (m *DirectMachine) save(ctx context.Context, call *domain.DirectCall, operation string) bool {
	sctx, cancel := m.opts.storeContext(ctx)
	defer cancel()

	if err := m.store.Update(sctx, call); err != nil {
		m.opts.persistFailed(kindDirect, operation, call.CallID, err)
		return false
	}
	m.opts.metrics.RecordCallTransition(kindDirect, string(call.Status))
	return true
}

func callIDOf(call *domain.DirectCall, fallback *uuid.UUID) *uuid.UUID {
	if call != nil {
		id := call.CallID
		return &id
	}
	return fallback
}

func uuidOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
