package entity

import (
	"strconv"
	"strings"
	"time"
)

const (
	// TopicPrefix is prepended to a conversation key to name its channel.
	TopicPrefix = "/topic/chat/"

	// SendDestination is the single inbound address for published messages.
	// The server routes each envelope to its pair topic.
	SendDestination = "/app/send"

	keySeparator = "_"
)

// ConversationKey derives the channel key for the unordered pair {a, b}: the
// lower id first, joined with an underscore. Both participants compute the
// same key regardless of who opened the chat. Ids must be resolved (non-zero)
// before calling.
func ConversationKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + keySeparator + strconv.FormatInt(b, 10)
}

// ParseConversationKey is the inverse of ConversationKey. It rejects keys
// that are not in canonical order.
func ParseConversationKey(key string) (a, b int64, ok bool) {
	left, right, found := strings.Cut(key, keySeparator)
	if !found {
		return 0, 0, false
	}

	a, err := strconv.ParseInt(left, 10, 64)
	if err != nil || a <= 0 {
		return 0, 0, false
	}
	b, err = strconv.ParseInt(right, 10, 64)
	if err != nil || b <= 0 || a >= b {
		return 0, 0, false
	}
	return a, b, true
}

func ConversationTopic(key string) string {
	return TopicPrefix + key
}

// ParseConversationTopic extracts the participant pair from a subscription
// destination such as /topic/chat/3_12.
func ParseConversationTopic(destination string) (a, b int64, ok bool) {
	key, found := strings.CutPrefix(destination, TopicPrefix)
	if !found {
		return 0, 0, false
	}
	return ParseConversationKey(key)
}

// ConversationSummary is the inbox projection of one conversation, seen from
// the requesting user.
type ConversationSummary struct {
	OtherUserID   int64     `json:"otherUserId"`
	OtherUserName string    `json:"otherUserName"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}
