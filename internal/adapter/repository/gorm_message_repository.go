package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"adoptme/internal/domain/entity"
	"adoptme/internal/domain/repository"
	"adoptme/pkg/errors"
	"adoptme/pkg/logger"
)

type gormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	message.ID = 0
	message.Timestamp = time.Now().UTC()

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		logger.Error("[MessageRepository] Failed to store message %d->%d: %v", message.SenderID, message.ReceiverID, err)
		return errors.Internal("Failed to create message", err)
	}

	return nil
}

func (r *gormMessageRepository) ListConversation(ctx context.Context, a, b int64) ([]*entity.Message, error) {
	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("timestamp asc, id asc").
		Find(&messages).Error
	if err != nil {
		logger.Error("[MessageRepository] Failed to load conversation %s: %v", entity.ConversationKey(a, b), err)
		return nil, errors.Internal("Failed to load conversation", err)
	}

	return messages, nil
}

func (r *gormMessageRepository) ListForUser(ctx context.Context, userID int64) ([]*entity.Message, error) {
	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("timestamp desc, id desc").
		Find(&messages).Error
	if err != nil {
		logger.Error("[MessageRepository] Failed to load messages for user %d: %v", userID, err)
		return nil, errors.Internal("Failed to load messages", err)
	}

	return messages, nil
}
