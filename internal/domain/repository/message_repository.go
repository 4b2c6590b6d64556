package repository

import (
	"context"

	"adoptme/internal/domain/entity"
)

// MessageRepository is the durable message history.
type MessageRepository interface {
	// Create assigns ID and Timestamp before storing the message.
	Create(ctx context.Context, message *entity.Message) error

	// ListConversation returns every message exchanged between a and b, in
	// either direction, oldest first.
	ListConversation(ctx context.Context, a, b int64) ([]*entity.Message, error)

	// ListForUser returns every message sent or received by userID, newest first.
	ListForUser(ctx context.Context, userID int64) ([]*entity.Message, error)
}
