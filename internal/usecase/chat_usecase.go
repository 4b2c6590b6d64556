package usecase

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"adoptme/internal/domain/entity"
	"adoptme/internal/domain/repository"
	"adoptme/internal/infrastructure/pubsub"
	"adoptme/internal/infrastructure/ratelimit"
	"adoptme/pkg/errors"
	"adoptme/pkg/logger"
	"adoptme/pkg/response"
)

type ChatUseCase struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	broker      pubsub.Broker
	rateLimiter *ratelimit.RateLimiter
	validate    *validator.Validate
}

func NewChatUseCase(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	broker pubsub.Broker,
	rateLimiter *ratelimit.RateLimiter,
) *ChatUseCase {
	return &ChatUseCase{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		broker:      broker,
		rateLimiter: rateLimiter,
		validate:    validator.New(),
	}
}

// SendMessage stores the message and broadcasts it on the pair's topic. Both
// participants subscribe to that topic, so the sender receives its own
// message exactly once, through the same path as the receiver.
func (uc *ChatUseCase) SendMessage(ctx context.Context, input entity.SendMessageInput) (*entity.Message, error) {
	if err := uc.validateSend(input); err != nil {
		return nil, err
	}

	if uc.rateLimiter != nil {
		allowed, waitTime := uc.rateLimiter.Allow(strconv.FormatInt(input.SenderID, 10), ratelimit.ActionSendMessage)
		if !allowed {
			logger.Warn("SendMessage Rate Limited: User %d must wait %v", input.SenderID, waitTime)
			return nil, errors.TooManyRequests("You are sending messages too quickly. Please slow down.")
		}
	}

	sender, err := uc.userRepo.GetByID(ctx, input.SenderID)
	if err != nil {
		logger.Warn("SendMessage Error: Sender %d not found: %v", input.SenderID, err)
		return nil, lookupError("Sender", err)
	}
	receiver, err := uc.userRepo.GetByID(ctx, input.ReceiverID)
	if err != nil {
		logger.Warn("SendMessage Error: Receiver %d not found: %v", input.ReceiverID, err)
		return nil, lookupError("Receiver", err)
	}

	message := &entity.Message{
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		Content:    input.Content,
	}
	if err := uc.messageRepo.Create(ctx, message); err != nil {
		logger.Error("SendMessage Error: Failed to store message %d->%d: %v", input.SenderID, input.ReceiverID, err)
		return nil, err
	}
	message.SenderName = displayName(sender)
	message.ReceiverName = displayName(receiver)

	// The message is durable at this point; a failed broadcast only costs
	// realtime delivery, the next history load still shows it.
	payload, err := json.Marshal(message)
	if err != nil {
		logger.Error("SendMessage Error: Failed to encode message %d: %v", message.ID, err)
		return message, nil
	}
	topic := entity.ConversationTopic(message.ConversationKey())
	if err := uc.broker.Publish(ctx, topic, payload); err != nil {
		logger.Error("SendMessage Error: Failed to broadcast message %d on %s: %v", message.ID, topic, err)
	}

	return message, nil
}

func (uc *ChatUseCase) validateSend(input entity.SendMessageInput) error {
	if strings.TrimSpace(input.Content) == "" {
		return errors.Validation("content must not be empty")
	}

	if err := uc.validate.Struct(input); err != nil {
		var validationErr validator.ValidationErrors
		if stderrors.As(err, &validationErr) {
			return errors.Validation(response.ValidationMessage(validationErr))
		}
		return errors.Validation("invalid message")
	}
	return nil
}

// GetConversation returns the history between user1 and user2, oldest first.
func (uc *ChatUseCase) GetConversation(ctx context.Context, user1, user2 int64) ([]*entity.Message, error) {
	if user1 <= 0 || user2 <= 0 {
		return nil, errors.Validation("user1 and user2 must be positive user ids")
	}

	messages, err := uc.messageRepo.ListConversation(ctx, user1, user2)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = make([]*entity.Message, 0)
	}

	if len(messages) > 0 {
		names := map[int64]string{
			user1: uc.userName(ctx, user1),
			user2: uc.userName(ctx, user2),
		}
		for _, m := range messages {
			m.SenderName = names[m.SenderID]
			m.ReceiverName = names[m.ReceiverID]
		}
	}
	return messages, nil
}

// GetInbox summarizes every conversation userID takes part in: the latest
// message per counterpart, most recent conversation first.
func (uc *ChatUseCase) GetInbox(ctx context.Context, userID int64) ([]entity.ConversationSummary, error) {
	if userID <= 0 {
		return nil, errors.Validation("user id must be positive")
	}

	messages, err := uc.messageRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	inbox := make([]entity.ConversationSummary, 0)
	seen := make(map[int64]bool)
	for _, m := range messages {
		otherID := m.SenderID
		if otherID == userID {
			otherID = m.ReceiverID
		}
		if seen[otherID] {
			continue
		}
		seen[otherID] = true

		inbox = append(inbox, entity.ConversationSummary{
			OtherUserID:   otherID,
			OtherUserName: uc.userName(ctx, otherID),
			LastMessage:   m.Content,
			LastMessageAt: m.Timestamp,
		})
	}

	return inbox, nil
}

// userName resolves a display name, falling back to a placeholder for users
// the directory cannot produce.
func (uc *ChatUseCase) userName(ctx context.Context, id int64) string {
	user, err := uc.userRepo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, errors.CodeNotFound) {
			logger.Warn("ChatUseCase: failed to resolve user %d: %v", id, err)
		}
		return entity.FallbackUserName(id)
	}
	return displayName(user)
}

func displayName(user *entity.User) string {
	if user.Name == "" {
		return entity.FallbackUserName(user.ID)
	}
	return user.Name
}

func lookupError(role string, err error) error {
	if errors.Is(err, errors.CodeNotFound) {
		return errors.NotFound(role, err)
	}
	return err
}
