package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsechat-backend/internal/domain"
	"pulsechat-backend/internal/protocol"
	"pulsechat-backend/internal/repository/memory"
	"pulsechat-backend/internal/service/presence"
	"pulsechat-backend/internal/service/presence/presencetest"
	"pulsechat-backend/internal/service/relay"
)

type groupFixture struct {
	machine *GroupMachine
	calls   *memory.GroupCallRepository
	groups  *memory.GroupRepository
	clock   *fakeClock
	groupID uuid.UUID
	users   []uuid.UUID
	conns   map[uuid.UUID]*presencetest.Conn
}

func newGroupFixture(t *testing.T, members int) *groupFixture {
	t.Helper()
	f := &groupFixture{
		calls:   memory.NewGroupCallRepository(),
		groups:  memory.NewGroupRepository(),
		clock:   newFakeClock(),
		groupID: uuid.New(),
		conns:   make(map[uuid.UUID]*presencetest.Conn),
	}
	registry := presence.NewRegistry()
	for i := 0; i < members; i++ {
		id := uuid.New()
		conn := presencetest.NewConn()
		registry.Register(id, conn)
		f.users = append(f.users, id)
		f.conns[id] = conn
	}
	f.groups.Put(domain.Group{GroupID: f.groupID, Name: "team", Members: f.users})
	f.machine = NewGroupMachine(f.calls, f.groups, relay.New(registry, f.groups, nil), WithClock(f.clock.Now))
	return f
}

func (f *groupFixture) start(t *testing.T) *domain.GroupCall {
	t.Helper()
	call := f.machine.Request(context.Background(), f.users[0], protocol.GroupCallRequest{GroupID: f.groupID, CallType: "audio"})
	require.NotNil(t, call)
	return call
}

func (f *groupFixture) member(groupID uuid.UUID) protocol.GroupCallMember {
	return protocol.GroupCallMember{GroupID: groupID}
}

func (f *groupFixture) stored(t *testing.T, callID uuid.UUID) *domain.GroupCall {
	t.Helper()
	call, err := f.calls.GetByID(context.Background(), callID)
	require.NoError(t, err)
	return call
}

func TestGroupCall_RequestRingsOtherMembers(t *testing.T) {
	f := newGroupFixture(t, 3)

	call := f.start(t)

	stored := f.stored(t, call.CallID)
	assert.Equal(t, domain.CallStatusActive, stored.Status)
	assert.Equal(t, []uuid.UUID{f.users[0]}, stored.ParticipantsAccepted)
	assert.Equal(t, []uuid.UUID{f.users[0]}, stored.ParticipantsActive)
	require.NotNil(t, stored.StartedAt)

	assert.Empty(t, f.conns[f.users[0]].Named(protocol.EventGroupCallIncoming))
	for _, id := range f.users[1:] {
		incoming, ok := f.conns[id].Last(protocol.EventGroupCallIncoming)
		require.True(t, ok)
		assert.Equal(t, f.groupID.String(), incoming.Payload["groupId"])
		assert.Equal(t, call.CallID.String(), incoming.Payload["callId"])
		assert.Equal(t, "audio", incoming.Payload["callType"])
	}
}

func TestGroupCall_UnknownGroupIgnored(t *testing.T) {
	f := newGroupFixture(t, 2)

	call := f.machine.Request(context.Background(), f.users[0], protocol.GroupCallRequest{GroupID: uuid.New()})

	assert.Nil(t, call)
	_, err := f.calls.FindLatestByGroup(context.Background(), f.groupID)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestGroupCall_ParticipantConvergence(t *testing.T) {
	f := newGroupFixture(t, 3)
	ctx := context.Background()
	initiator, b, c := f.users[0], f.users[1], f.users[2]

	call := f.start(t)
	f.machine.Accept(ctx, b, f.member(f.groupID))
	f.machine.Accept(ctx, c, f.member(f.groupID))

	// the joiner is told about its own join too
	joined := f.conns[b].Named(protocol.EventGroupCallParticipantJoined)
	require.Len(t, joined, 2)
	assert.Equal(t, b.String(), joined[0].Payload["userId"])

	assert.False(t, f.machine.Leave(ctx, b, f.member(f.groupID)))
	stored := f.stored(t, call.CallID)
	assert.ElementsMatch(t, []uuid.UUID{initiator, b, c}, stored.ParticipantsAccepted)
	assert.ElementsMatch(t, []uuid.UUID{initiator, c}, stored.ParticipantsActive)
	assert.Nil(t, stored.EndedAt)

	assert.False(t, f.machine.Leave(ctx, initiator, f.member(f.groupID)))
	f.clock.Advance(42 * time.Second)
	assert.True(t, f.machine.Leave(ctx, c, f.member(f.groupID)))

	stored = f.stored(t, call.CallID)
	assert.Equal(t, domain.CallStatusCompleted, stored.Status)
	assert.Empty(t, stored.ParticipantsActive)
	require.NotNil(t, stored.EndedAt)
	require.NotNil(t, stored.DurationSeconds)
	assert.Equal(t, 42, *stored.DurationSeconds)

	for _, id := range f.users {
		ended := f.conns[id].Named(protocol.EventGroupCallEnd)
		require.Len(t, ended, 1)
		assert.Equal(t, call.CallID.String(), ended[0].Payload["callId"])
	}
}

func TestGroupCall_AcceptIsIdempotent(t *testing.T) {
	f := newGroupFixture(t, 2)
	ctx := context.Background()

	call := f.start(t)
	f.machine.Accept(ctx, f.users[1], f.member(f.groupID))
	f.machine.Accept(ctx, f.users[1], f.member(f.groupID))

	stored := f.stored(t, call.CallID)
	assert.Equal(t, []uuid.UUID{f.users[0], f.users[1]}, stored.ParticipantsAccepted)
	assert.Equal(t, []uuid.UUID{f.users[0], f.users[1]}, stored.ParticipantsActive)
}

func TestGroupCall_EndedCallIsNotRevived(t *testing.T) {
	f := newGroupFixture(t, 2)
	ctx := context.Background()

	call := f.start(t)
	require.True(t, f.machine.Leave(ctx, f.users[0], f.member(f.groupID)))

	f.machine.Accept(ctx, f.users[1], f.member(f.groupID))

	stored := f.stored(t, call.CallID)
	assert.Equal(t, domain.CallStatusCompleted, stored.Status)
	assert.Empty(t, stored.ParticipantsActive)
	// the join is still announced
	assert.Len(t, f.conns[f.users[0]].Named(protocol.EventGroupCallParticipantJoined), 1)
}

func TestGroupCall_DeclineDoesNotTouchRecord(t *testing.T) {
	f := newGroupFixture(t, 3)

	call := f.start(t)
	before := f.stored(t, call.CallID)
	f.machine.Decline(context.Background(), f.users[1], f.member(f.groupID))

	assert.Equal(t, before, f.stored(t, call.CallID))
	for _, id := range f.users {
		declined, ok := f.conns[id].Last(protocol.EventGroupCallParticipantDeclined)
		require.True(t, ok)
		assert.Equal(t, f.users[1].String(), declined.Payload["userId"])
	}
}

func TestGroupCall_StaleCallIDIgnored(t *testing.T) {
	f := newGroupFixture(t, 2)
	ctx := context.Background()

	old := f.start(t)
	require.True(t, f.machine.Leave(ctx, f.users[0], f.member(f.groupID)))
	f.clock.Advance(time.Minute)
	current := f.start(t)

	f.machine.Accept(ctx, f.users[1], protocol.GroupCallMember{GroupID: f.groupID, CallID: &old.CallID})
	assert.Equal(t, []uuid.UUID{f.users[0]}, f.stored(t, current.CallID).ParticipantsActive)

	f.machine.Accept(ctx, f.users[1], protocol.GroupCallMember{GroupID: f.groupID, CallID: &current.CallID})
	assert.Equal(t, []uuid.UUID{f.users[0], f.users[1]}, f.stored(t, current.CallID).ParticipantsActive)
}

func TestGroupCall_LeaveWithoutCall(t *testing.T) {
	f := newGroupFixture(t, 2)

	assert.False(t, f.machine.Leave(context.Background(), f.users[1], f.member(f.groupID)))
	assert.Empty(t, f.conns[f.users[0]].Events())
}

func TestGroupCall_HandleDisconnectLeavesEachGroupOnce(t *testing.T) {
	f := newGroupFixture(t, 2)
	ctx := context.Background()
	user, other := f.users[0], f.users[1]

	second := uuid.New()
	f.groups.Put(domain.Group{GroupID: second, Members: []uuid.UUID{user, other}})

	first := f.start(t)
	f.machine.Accept(ctx, other, f.member(f.groupID))
	f.clock.Advance(time.Second)
	secondCall := f.machine.Request(ctx, user, protocol.GroupCallRequest{GroupID: second})
	require.NotNil(t, secondCall)
	f.machine.Accept(ctx, other, f.member(second))

	f.conns[other].Reset()
	assert.Equal(t, 2, f.machine.HandleDisconnect(ctx, user))

	left := f.conns[other].Named(protocol.EventGroupCallParticipantLeft)
	require.Len(t, left, 2)
	assert.ElementsMatch(t,
		[]any{f.groupID.String(), second.String()},
		[]any{left[0].Payload["groupId"], left[1].Payload["groupId"]})

	assert.Equal(t, []uuid.UUID{other}, f.stored(t, first.CallID).ParticipantsActive)
	assert.Equal(t, []uuid.UUID{other}, f.stored(t, secondCall.CallID).ParticipantsActive)
	assert.Empty(t, f.conns[other].Named(protocol.EventGroupCallEnd))

	assert.Equal(t, 0, f.machine.HandleDisconnect(ctx, user))
}

func TestGroupCall_HandleDisconnectDedupesRecordsPerGroup(t *testing.T) {
	f := newGroupFixture(t, 2)
	ctx := context.Background()
	user, other := f.users[0], f.users[1]

	// two running records for the same group that both list the user
	now := f.clock.Now()
	for i := 0; i < 2; i++ {
		createdAt := now.Add(time.Duration(i) * time.Second)
		require.NoError(t, f.calls.Create(ctx, &domain.GroupCall{
			CallID:               uuid.New(),
			GroupID:              f.groupID,
			InitiatorID:          user,
			Type:                 domain.CallTypeAudio,
			Status:               domain.CallStatusActive,
			ParticipantsAccepted: []uuid.UUID{user},
			ParticipantsActive:   []uuid.UUID{user},
			StartedAt:            &createdAt,
			CreatedAt:            createdAt,
		}))
	}

	assert.Equal(t, 1, f.machine.HandleDisconnect(ctx, user))
	assert.Len(t, f.conns[other].Named(protocol.EventGroupCallParticipantLeft), 1)
	assert.Len(t, f.conns[other].Named(protocol.EventGroupCallEnd), 1)
}
