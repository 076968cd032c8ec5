package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"pulsechat-backend/internal/domain"
)

// MessageRepository handles message storage in Cassandra.
// Messages are partitioned by conversation and day bucket.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message into Cassandra
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.CreatedAt)
	}
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages (
			conversation_id, bucket, message_id, sender_id, receiver_id,
			group_id, text, image, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		gocql.UUID(message.ConversationKey()),
		message.Bucket,
		gocql.UUID(message.MessageID),
		gocql.UUID(message.SenderID),
		optionalUUID(message.ReceiverID),
		optionalUUID(message.GroupID),
		message.Text,
		message.Image,
		message.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

func optionalUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return gocql.UUID(*id)
}
