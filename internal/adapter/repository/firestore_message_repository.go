package repository

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"adoptme/internal/domain/entity"
	"adoptme/internal/domain/repository"
	"adoptme/pkg/errors"
	"adoptme/pkg/logger"
)

const (
	messagesCollection = "messages"
	countersCollection = "counters"
	messageCounterDoc  = "messages"
)

// firestoreMessage is the stored shape of a message. Participants backs the
// array-contains query used by the inbox; ConversationKey backs history.
type firestoreMessage struct {
	ID              int64     `firestore:"id"`
	SenderID        int64     `firestore:"senderId"`
	ReceiverID      int64     `firestore:"receiverId"`
	Content         string    `firestore:"content"`
	Timestamp       time.Time `firestore:"timestamp"`
	ConversationKey string    `firestore:"conversationKey"`
	Participants    []int64   `firestore:"participants"`
}

func (m *firestoreMessage) toEntity() *entity.Message {
	return &entity.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	}
}

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

// Create hands out sequential numeric ids from a counter document so that
// message ids look the same as with the SQL store.
func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	counterRef := r.client.Collection(countersCollection).Doc(messageCounterDoc)
	now := time.Now().UTC()

	var assigned int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		next := int64(1)

		doc, err := tx.Get(counterRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			value, err := doc.DataAt("value")
			if err != nil {
				return err
			}
			if current, ok := value.(int64); ok {
				next = current + 1
			}
		}

		stored := firestoreMessage{
			ID:              next,
			SenderID:        message.SenderID,
			ReceiverID:      message.ReceiverID,
			Content:         message.Content,
			Timestamp:       now,
			ConversationKey: entity.ConversationKey(message.SenderID, message.ReceiverID),
			Participants:    []int64{message.SenderID, message.ReceiverID},
		}

		if err := tx.Set(counterRef, map[string]interface{}{"value": next}); err != nil {
			return err
		}
		assigned = next
		return tx.Set(r.client.Collection(messagesCollection).Doc(strconv.FormatInt(next, 10)), stored)
	})
	if err != nil {
		logger.Error("[MessageRepository] Firestore error creating message %d->%d: %v", message.SenderID, message.ReceiverID, err)
		return errors.Internal("Failed to create message", err)
	}

	message.ID = assigned
	message.Timestamp = now
	return nil
}

func (r *firestoreMessageRepository) ListConversation(ctx context.Context, a, b int64) ([]*entity.Message, error) {
	key := entity.ConversationKey(a, b)
	query := r.client.Collection(messagesCollection).
		Where("conversationKey", "==", key).
		OrderBy("timestamp", firestore.Asc).
		OrderBy("id", firestore.Asc)

	messages, err := r.collect(query.Documents(ctx))
	if err != nil {
		logger.Error("[MessageRepository] Firestore error loading conversation %s: %v", key, err)
		return nil, errors.Internal("Failed to load conversation", err)
	}
	return messages, nil
}

func (r *firestoreMessageRepository) ListForUser(ctx context.Context, userID int64) ([]*entity.Message, error) {
	query := r.client.Collection(messagesCollection).
		Where("participants", "array-contains", userID).
		OrderBy("timestamp", firestore.Desc).
		OrderBy("id", firestore.Desc)

	messages, err := r.collect(query.Documents(ctx))
	if err != nil {
		logger.Error("[MessageRepository] Firestore error loading messages for user %d: %v", userID, err)
		return nil, errors.Internal("Failed to load messages", err)
	}
	return messages, nil
}

func (r *firestoreMessageRepository) collect(iter *firestore.DocumentIterator) ([]*entity.Message, error) {
	defer iter.Stop()

	messages := make([]*entity.Message, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var stored firestoreMessage
		if err := doc.DataTo(&stored); err != nil {
			logger.Warn("[MessageRepository] Skipping unreadable message %s: %v", doc.Ref.ID, err)
			continue
		}
		messages = append(messages, stored.toEntity())
	}
	return messages, nil
}
