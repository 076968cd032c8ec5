package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat message accepted through the message ingress endpoints.
// Exactly one of ReceiverID and GroupID is set.
type Message struct {
	MessageID  uuid.UUID  `json:"_id"`
	SenderID   uuid.UUID  `json:"senderId"`
	ReceiverID *uuid.UUID `json:"receiverId,omitempty"`
	GroupID    *uuid.UUID `json:"groupId,omitempty"`
	Text       string     `json:"text,omitempty"`
	Image      string     `json:"image,omitempty"`
	Bucket     int        `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// MessageCreate is the request body for sending a message
type MessageCreate struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// CalculateBucket returns the day bucket (days since epoch) a message lands in
func CalculateBucket(t time.Time) int {
	return int(t.UTC().Unix() / 86400)
}

// ConversationKey is the partition key for a message: the group id for group
// messages, or a stable id derived from the unordered user pair otherwise.
func (m *Message) ConversationKey() uuid.UUID {
	if m.GroupID != nil {
		return *m.GroupID
	}
	if m.ReceiverID == nil {
		return m.SenderID
	}
	return PairKey(m.SenderID, *m.ReceiverID)
}

// PairKey derives the same id for (a, b) and (b, a)
func PairKey(a, b uuid.UUID) uuid.UUID {
	lo, hi := a, b
	if hi.String() < lo.String() {
		lo, hi = hi, lo
	}
	return uuid.NewSHA1(lo, hi[:])
}
