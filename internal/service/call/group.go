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

const kindGroup = "group"

// GroupMachine drives GroupCall records. Only the newest record of a group is
// live, and every transition re-reads it from the store.
type GroupMachine struct {
	calls  GroupCallStore
	groups relay.GroupDirectory
	relay  *relay.Relay
	locks  *keyedMutex
	opts   machineOptions
}

// NewGroupMachine creates a GroupMachine
func NewGroupMachine(calls GroupCallStore, groups relay.GroupDirectory, r *relay.Relay, opts ...Option) *GroupMachine {
	return &GroupMachine{
		calls:  calls,
		groups: groups,
		relay:  r,
		locks:  newKeyedMutex(),
		opts:   buildOptions(opts),
	}
}

// Request starts an already active call with the initiator as its only
// participant and rings every other member. Unknown groups are ignored.
func (m *GroupMachine) Request(ctx context.Context, initiatorID uuid.UUID, in protocol.GroupCallRequest) *domain.GroupCall {
	group := m.group(ctx, in.GroupID)
	if group == nil {
		return nil
	}

	unlock := m.locks.Lock(groupKey(group.GroupID))
	defer unlock()

	now := m.opts.now()
	call := &domain.GroupCall{
		CallID:               uuid.New(),
		GroupID:              group.GroupID,
		InitiatorID:          initiatorID,
		Type:                 domain.ParseCallType(in.CallType),
		Status:               domain.CallStatusActive,
		ParticipantsAccepted: []uuid.UUID{initiatorID},
		ParticipantsActive:   []uuid.UUID{initiatorID},
		StartedAt:            &now,
		CreatedAt:            now,
	}

	sctx, cancel := m.opts.storeContext(ctx)
	err := m.calls.Create(sctx, call)
	cancel()
	if err != nil {
		m.opts.persistFailed(kindGroup, "create", call.CallID, err)
	} else {
		m.opts.metrics.RecordCallTransition(kindGroup, string(call.Status))
	}

	m.relay.ToMembers(group.Members, initiatorID, protocol.EventGroupCallIncoming, protocol.GroupCallIncoming{
		GroupID:  group.GroupID,
		CallID:   &call.CallID,
		FromUser: in.FromUser,
		CallType: string(call.Type),
	})
	return call
}

// Accept adds the user to the live call and tells every member, the joiner included
func (m *GroupMachine) Accept(ctx context.Context, userID uuid.UUID, in protocol.GroupCallMember) *domain.GroupCall {
	if in.GroupID == uuid.Nil {
		return nil
	}

	unlock := m.locks.Lock(groupKey(in.GroupID))
	defer unlock()

	call := m.latest(ctx, in.GroupID, in.CallID)
	if call != nil && call.EndedAt == nil {
		if call.Join(userID, m.opts.now()) {
			m.save(ctx, call, "accept")
		}
	}

	if group := m.group(ctx, in.GroupID); group != nil {
		m.relay.ToMembers(group.Members, uuid.Nil, protocol.EventGroupCallParticipantJoined, protocol.GroupParticipant{
			GroupID: in.GroupID,
			CallID:  groupCallIDOf(call, in.CallID),
			User:    in.User,
			UserID:  userID,
		})
	}
	return call
}

// Decline only informs the members; the call record is not touched
func (m *GroupMachine) Decline(ctx context.Context, userID uuid.UUID, in protocol.GroupCallMember) {
	if in.GroupID == uuid.Nil {
		return
	}
	if group := m.group(ctx, in.GroupID); group != nil {
		m.relay.ToMembers(group.Members, uuid.Nil, protocol.EventGroupCallParticipantDeclined, protocol.GroupParticipant{
			GroupID: in.GroupID,
			CallID:  in.CallID,
			User:    in.User,
			UserID:  userID,
		})
	}
}

// Leave removes the user from the live call. When nobody is left the call is
// finished and group:call:end is sent. It reports whether the call ended.
func (m *GroupMachine) Leave(ctx context.Context, userID uuid.UUID, in protocol.GroupCallMember) bool {
	if in.GroupID == uuid.Nil {
		return false
	}

	unlock := m.locks.Lock(groupKey(in.GroupID))
	defer unlock()

	return m.leaveLocked(ctx, userID, in.GroupID, in.CallID)
}

// HandleDisconnect runs Leave once per group for every running call the user
// is active in. Called when the user's last connection closes.
func (m *GroupMachine) HandleDisconnect(ctx context.Context, userID uuid.UUID) int {
	sctx, cancel := m.opts.storeContext(ctx)
	calls, err := m.calls.FindRunningByParticipant(sctx, userID)
	cancel()
	if err != nil {
		logger.Warn("Failed to load running group calls for disconnect cleanup",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return 0
	}

	processed := make(map[uuid.UUID]struct{}, len(calls))
	for _, c := range calls {
		if _, seen := processed[c.GroupID]; seen {
			continue
		}
		processed[c.GroupID] = struct{}{}

		unlock := m.locks.Lock(groupKey(c.GroupID))
		m.leaveLocked(ctx, userID, c.GroupID, nil)
		unlock()
	}
	return len(processed)
}

func (m *GroupMachine) leaveLocked(ctx context.Context, userID, groupID uuid.UUID, callID *uuid.UUID) bool {
	call := m.latest(ctx, groupID, callID)
	if call == nil {
		return false
	}

	wasActive := call.IsActiveParticipant(userID)
	ended := call.Leave(userID, m.opts.now())
	if wasActive || ended {
		if m.save(ctx, call, "leave") && ended && call.DurationSeconds != nil {
			m.opts.metrics.RecordCallDuration(kindGroup, *call.DurationSeconds)
		}
	}

	group := m.group(ctx, groupID)
	if group == nil {
		return ended
	}
	id := call.CallID
	m.relay.ToMembers(group.Members, uuid.Nil, protocol.EventGroupCallParticipantLeft, protocol.GroupParticipant{
		GroupID: groupID,
		CallID:  &id,
		UserID:  userID,
	})
	if ended {
		m.relay.ToMembers(group.Members, uuid.Nil, protocol.EventGroupCallEnd, protocol.GroupCallEnded{
			GroupID: groupID,
			CallID:  &id,
		})
	}
	return ended
}

// latest returns the group's newest record. An event naming an older call id
// refers to a superseded call and resolves to nothing.
func (m *GroupMachine) latest(ctx context.Context, groupID uuid.UUID, callID *uuid.UUID) *domain.GroupCall {
	sctx, cancel := m.opts.storeContext(ctx)
	defer cancel()

	call, err := m.calls.FindLatestByGroup(sctx, groupID)
	if err != nil {
		if !errors.Is(err, domain.ErrCallNotFound) {
			m.opts.persistFailed(kindGroup, "lookup", uuidOrNil(callID), err)
		}
		return nil
	}
	if callID != nil && *callID != uuid.Nil && *callID != call.CallID {
		logger.Debug("Ignoring event for superseded group call",
			zap.String("group_id", groupID.String()),
			zap.String("call_id", callID.String()),
			zap.String("latest_call_id", call.CallID.String()))
		return nil
	}
	return call
}

func (m *GroupMachine) group(ctx context.Context, groupID uuid.UUID) *domain.Group {
	if groupID == uuid.Nil {
		return nil
	}
	sctx, cancel := m.opts.storeContext(ctx)
	defer cancel()

	group, err := m.groups.GetGroup(sctx, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			logger.Debug("Group call event for unknown group", zap.String("group_id", groupID.String()))
		} else {
			logger.Warn("Failed to load group members",
				zap.String("group_id", groupID.String()),
				zap.Error(err))
		}
		return nil
	}
	return group
}

func (m *GroupMachine) save(ctx context.Context, call *domain.GroupCall, operation string) bool {
	sctx, cancel := m.opts.storeContext(ctx)
	defer cancel()

	if err := m.calls.Update(sctx, call); err != nil {
		m.opts.persistFailed(kindGroup, operation, call.CallID, err)
		return false
	}
	m.opts.metrics.RecordCallTransition(kindGroup, string(call.Status))
	return true
}

func groupCallIDOf(call *domain.GroupCall, fallback *uuid.UUID) *uuid.UUID {
	if call != nil {
		id := call.CallID
		return &id
	}
	return fallback
}
