package entity

import "time"

// MaxMessageLength bounds Content; the column behind it is 2000 characters wide.
const MaxMessageLength = 2000

// Message is immutable once the server has accepted it. The names are
// resolved from the user directory when a message is served, never stored.
type Message struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement" firestore:"id"`
	SenderID     int64     `json:"senderId" gorm:"not null;index:idx_chat_messages_pair,priority:1" firestore:"senderId"`
	ReceiverID   int64     `json:"receiverId" gorm:"not null;index:idx_chat_messages_pair,priority:2" firestore:"receiverId"`
	Content      string    `json:"content" gorm:"size:2000;not null" firestore:"content"`
	Timestamp    time.Time `json:"timestamp" gorm:"not null;index" firestore:"timestamp"`
	SenderName   string    `json:"senderName,omitempty" gorm:"-" firestore:"-"`
	ReceiverName string    `json:"receiverName,omitempty" gorm:"-" firestore:"-"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// ConversationKey is the canonical key of the pair this message belongs to.
func (m *Message) ConversationKey() string {
	return ConversationKey(m.SenderID, m.ReceiverID)
}

// BelongsTo reports whether the message was exchanged between a and b, in
// either direction.
func (m *Message) BelongsTo(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// SendMessageInput is the envelope a client publishes to SendDestination.
type SendMessageInput struct {
	SenderID   int64  `json:"senderId" validate:"required,gt=0"`
	ReceiverID int64  `json:"receiverId" validate:"required,gt=0,nefield=SenderID"`
	Content    string `json:"content" validate:"required,max=2000"`
}
