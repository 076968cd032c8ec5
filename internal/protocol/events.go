// Package protocol defines the signaling event names and payloads exchanged
// over the websocket.
package protocol

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Client to server events. Names that appear in both directions are shared.
const (
	EventCallRequest  = "call:request"
	EventCallAccepted = "call:accepted"
	EventCallDeclined = "call:declined"
	EventCallEnd      = "call:end"
	EventICECandidate = "webrtc:ice-candidate"

	EventGroupCallRequest  = "group:call:request"
	EventGroupCallAccepted = "group:call:accepted"
	EventGroupCallDeclined = "group:call:declined"
	EventGroupCallLeft     = "group:call:left"

	EventGroupOffer        = "group:webrtc:offer"
	EventGroupAnswer       = "group:webrtc:answer"
	EventGroupICECandidate = "group:webrtc:ice-candidate"

	EventChatTyping      = "chat:typing"
	EventChatStopTyping  = "chat:stopTyping"
	EventGroupTyping     = "group:typing"
	EventGroupStopTyping = "group:stopTyping"

	EventHeartbeat = "heartbeat"
)

// Server to client events
const (
	EventOnlineUsers  = "getOnlineUsers"
	EventCallIncoming = "call:incoming"
	EventCallCreated  = "call:created"

	EventGroupCallIncoming            = "group:call:incoming"
	EventGroupCallParticipantJoined   = "group:call:participant-joined"
	EventGroupCallParticipantDeclined = "group:call:participant-declined"
	EventGroupCallParticipantLeft     = "group:call:participant-left"
	EventGroupCallEnd                 = "group:call:end"

	EventHeartbeatAck = "heartbeat:ack"

	EventNewMessage      = "newMessage"
	EventGroupNewMessage = "group:newMessage"
)

// Envelope is one websocket text frame
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CallRequest is sent by the caller to ring a peer
type CallRequest struct {
	ToUserID uuid.UUID       `json:"toUserId"`
	FromUser json.RawMessage `json:"fromUser"`
	CallType string          `json:"callType"`
	Offer    json.RawMessage `json:"offer"`
}

// CallAnswer is sent by the callee to accept
type CallAnswer struct {
	ToUserID uuid.UUID       `json:"toUserId"`
	CallID   *uuid.UUID      `json:"callId,omitempty"`
	Answer   json.RawMessage `json:"answer"`
}

// CallTarget addresses decline and end at the peer
type CallTarget struct {
	ToUserID uuid.UUID  `json:"toUserId"`
	CallID   *uuid.UUID `json:"callId,omitempty"`
}

// ICECandidate carries one candidate to the peer
type ICECandidate struct {
	ToUserID  uuid.UUID       `json:"toUserId"`
	Candidate json.RawMessage `json:"candidate"`
}

// GroupCallRequest starts a group call
type GroupCallRequest struct {
	GroupID  uuid.UUID       `json:"groupId"`
	FromUser json.RawMessage `json:"fromUser"`
	CallType string          `json:"callType"`
}

// GroupCallMember is the body of accepted, declined and left
type GroupCallMember struct {
	GroupID uuid.UUID       `json:"groupId"`
	CallID  *uuid.UUID      `json:"callId,omitempty"`
	User    json.RawMessage `json:"user,omitempty"`
	UserID  *uuid.UUID      `json:"userId,omitempty"`
}

// GroupPeerSignal is a mesh offer, answer or candidate between two participants
type GroupPeerSignal struct {
	ToUserID  uuid.UUID       `json:"toUserId"`
	GroupID   uuid.UUID       `json:"groupId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Typing is a typing indicator addressed to a user or a group
type Typing struct {
	ToUserID uuid.UUID `json:"toUserId"`
	GroupID  uuid.UUID `json:"groupId"`
}

// Heartbeat is the client keepalive
type Heartbeat struct {
	T int64 `json:"t"`
}

// IncomingCall rings the callee
type IncomingCall struct {
	CallID   *uuid.UUID      `json:"callId,omitempty"`
	FromUser json.RawMessage `json:"fromUser,omitempty"`
	CallType string          `json:"callType"`
	Offer    json.RawMessage `json:"offer,omitempty"`
}

// CallCreated tells the caller's connection which call id it started
type CallCreated struct {
	CallID   uuid.UUID `json:"callId"`
	ToUserID uuid.UUID `json:"toUserId"`
	CallType string    `json:"callType"`
}

// CallAccepted forwards the callee's answer
type CallAccepted struct {
	CallID     *uuid.UUID      `json:"callId,omitempty"`
	FromUserID uuid.UUID       `json:"fromUserId"`
	Answer     json.RawMessage `json:"answer,omitempty"`
}

// CallClosed is the body of call:declined and call:end
type CallClosed struct {
	CallID     *uuid.UUID `json:"callId,omitempty"`
	FromUserID uuid.UUID  `json:"fromUserId"`
}

// ICECandidateOut forwards a 1:1 candidate
type ICECandidateOut struct {
	FromUserID uuid.UUID       `json:"fromUserId"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// GroupCallIncoming rings the other group members
type GroupCallIncoming struct {
	GroupID  uuid.UUID       `json:"groupId"`
	CallID   *uuid.UUID      `json:"callId,omitempty"`
	FromUser json.RawMessage `json:"fromUser,omitempty"`
	CallType string          `json:"callType"`
}

// GroupParticipant reports a join, decline or leave
type GroupParticipant struct {
	GroupID uuid.UUID       `json:"groupId"`
	CallID  *uuid.UUID      `json:"callId,omitempty"`
	User    json.RawMessage `json:"user,omitempty"`
	UserID  uuid.UUID       `json:"userId"`
}

// GroupCallEnded is sent when the last participant leaves
type GroupCallEnded struct {
	GroupID uuid.UUID  `json:"groupId"`
	CallID  *uuid.UUID `json:"callId,omitempty"`
}

// GroupPeerSignalOut forwards a mesh signal
type GroupPeerSignalOut struct {
	FromUserID uuid.UUID       `json:"fromUserId"`
	GroupID    uuid.UUID       `json:"groupId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// TypingOut forwards a typing indicator
type TypingOut struct {
	FromUserID uuid.UUID  `json:"fromUserId"`
	GroupID    *uuid.UUID `json:"groupId,omitempty"`
}

// HeartbeatAck answers a heartbeat with server time in unix milliseconds
type HeartbeatAck struct {
	T int64 `json:"t"`
}
