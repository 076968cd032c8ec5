package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CallType is the media kind a call was started with
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// ParseCallType maps anything other than "video" to audio
func ParseCallType(s string) CallType {
	if s == string(CallTypeVideo) {
		return CallTypeVideo
	}
	return CallTypeAudio
}

// CallStatus is the lifecycle state of a call record
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
)

// IsLive reports whether the record can still transition
func (s CallStatus) IsLive() bool {
	return s == CallStatusRinging || s == CallStatusActive
}

var (
	ErrCallNotFound  = errors.New("call not found")
	ErrGroupNotFound = errors.New("group not found")
)

// DirectCall is the persisted summary of one 1:1 call attempt
type DirectCall struct {
	CallID          uuid.UUID  `json:"callId"`
	CallerID        uuid.UUID  `json:"callerId"`
	CalleeID        uuid.UUID  `json:"calleeId"`
	Type            CallType   `json:"type"`
	Status          CallStatus `json:"status"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *int       `json:"durationSeconds,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// HasParty reports whether userID is the caller or the callee
func (c *DirectCall) HasParty(userID uuid.UUID) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// Finish moves a live call to its terminal status. A call that never started
// is missed; one that did is completed with a whole-second duration.
func (c *DirectCall) Finish(now time.Time) {
	c.Status, c.DurationSeconds = terminalStatus(c.StartedAt, now)
	c.EndedAt = &now
}

// GroupCall is the persisted summary of one group call
type GroupCall struct {
	CallID               uuid.UUID   `json:"callId"`
	GroupID              uuid.UUID   `json:"groupId"`
	InitiatorID          uuid.UUID   `json:"initiatorId"`
	Type                 CallType    `json:"type"`
	Status               CallStatus  `json:"status"`
	ParticipantsAccepted []uuid.UUID `json:"participantsAccepted"`
	ParticipantsActive   []uuid.UUID `json:"participantsActive"`
	StartedAt            *time.Time  `json:"startedAt,omitempty"`
	EndedAt              *time.Time  `json:"endedAt,omitempty"`
	DurationSeconds      *int        `json:"durationSeconds,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
}

// IsRunning reports whether the call still has someone in it
func (g *GroupCall) IsRunning() bool {
	return g.Status == CallStatusActive && g.EndedAt == nil
}

// IsActiveParticipant reports whether userID is currently in the call
func (g *GroupCall) IsActiveParticipant(userID uuid.UUID) bool {
	return containsID(g.ParticipantsActive, userID)
}

// Join adds userID to both participant lists with set semantics.
// It reports whether anything changed.
func (g *GroupCall) Join(userID uuid.UUID, now time.Time) bool {
	changed := false
	if g.StartedAt == nil {
		g.StartedAt = &now
		g.Status = CallStatusActive
		changed = true
	}
	if !containsID(g.ParticipantsAccepted, userID) {
		g.ParticipantsAccepted = append(g.ParticipantsAccepted, userID)
		changed = true
	}
	if !containsID(g.ParticipantsActive, userID) {
		g.ParticipantsActive = append(g.ParticipantsActive, userID)
		changed = true
	}
	return changed
}

// Leave removes userID from the active list. When the list becomes empty the
// call is finished and Leave returns true.
func (g *GroupCall) Leave(userID uuid.UUID, now time.Time) (ended bool) {
	g.ParticipantsActive = removeID(g.ParticipantsActive, userID)
	if len(g.ParticipantsActive) > 0 || g.EndedAt != nil {
		return false
	}
	g.Status, g.DurationSeconds = terminalStatus(g.StartedAt, now)
	g.EndedAt = &now
	return true
}

func terminalStatus(startedAt *time.Time, now time.Time) (CallStatus, *int) {
	if startedAt == nil {
		return CallStatusMissed, nil
	}
	seconds := int(now.Sub(*startedAt) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return CallStatusCompleted, &seconds
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
