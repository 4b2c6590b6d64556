package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptme/internal/domain/entity"
	"adoptme/internal/domain/repository"
	"adoptme/pkg/errors"
)

// newStoreFunc opens an empty message store and user directory.
type newStoreFunc func(t *testing.T) (repository.MessageRepository, repository.UserRepository)

// storeTests runs every store behaviour against one driver.
func storeTests(t *testing.T, newStore newStoreFunc) {
	tests := []struct {
		name string
		run  func(t *testing.T, messages repository.MessageRepository, users repository.UserRepository)
	}{
		{"assigns id and timestamp", testCreateAssignsIDAndTimestamp},
		{"conversation oldest first", testListConversation},
		{"user messages newest first", testListForUserNewestFirst},
		{"user directory", testUserDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, users := newStore(t)
			tt.run(t, messages, users)
		})
	}
}

func testCreateAssignsIDAndTimestamp(t *testing.T, messages repository.MessageRepository, _ repository.UserRepository) {
	ctx := context.Background()

	first := &entity.Message{SenderID: 1, ReceiverID: 2, Content: "hey"}
	second := &entity.Message{SenderID: 2, ReceiverID: 1, Content: "hi back"}
	require.NoError(t, messages.Create(ctx, first))
	require.NoError(t, messages.Create(ctx, second))

	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)
	assert.False(t, first.Timestamp.IsZero())
}

func testListConversation(t *testing.T, messages repository.MessageRepository, _ repository.UserRepository) {
	ctx := context.Background()

	for _, m := range []*entity.Message{
		{SenderID: 1, ReceiverID: 2, Content: "one"},
		{SenderID: 1, ReceiverID: 3, Content: "other conversation"},
		{SenderID: 2, ReceiverID: 1, Content: "two"},
		{SenderID: 1, ReceiverID: 2, Content: "three"},
	} {
		require.NoError(t, messages.Create(ctx, m))
	}

	got, err := messages.ListConversation(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, "three", got[2].Content)

	same, err := messages.ListConversation(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, got, same)

	none, err := messages.ListConversation(ctx, 5, 6)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListForUserNewestFirst(t *testing.T, messages repository.MessageRepository, _ repository.UserRepository) {
	ctx := context.Background()

	for _, m := range []*entity.Message{
		{SenderID: 1, ReceiverID: 2, Content: "a"},
		{SenderID: 3, ReceiverID: 1, Content: "b"},
		{SenderID: 2, ReceiverID: 3, Content: "not mine"},
	} {
		require.NoError(t, messages.Create(ctx, m))
	}

	got, err := messages.ListForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Content)
	assert.Equal(t, "a", got[1].Content)
}

func testUserDirectory(t *testing.T, _ repository.MessageRepository, users repository.UserRepository) {
	ctx := context.Background()

	_, err := users.GetByID(ctx, 7)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	require.NoError(t, users.Upsert(ctx, &entity.User{ID: 7, Name: "Rex's guardian"}))
	require.NoError(t, users.Upsert(ctx, &entity.User{ID: 7, Name: "Renamed"}))

	user, err := users.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "Renamed", user.Name)
}
