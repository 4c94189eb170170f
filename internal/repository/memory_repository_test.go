package repository

import (
	"context"
	"testing"

	"skillswap-chat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_InsertAndQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := &model.Message{SenderID: "u1", ReceiverID: "u2", ConversationID: "u1-u2", Content: "hello", SenderName: "Alice"}
	require.NoError(t, s.Insert(ctx, m))
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, 1, s.Count())

	stored, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Empty(t, stored.SenderName, "transient fields are not stored")

	convs, err := s.ListConversations(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "u1", convs[0].OtherUserID)
	assert.Equal(t, 1, convs[0].Unread)

	n, err := s.MarkRead(ctx, "u1-u2", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_Membership(t *testing.T) {
	s := NewMemoryStore()
	s.AddMember("g1", "u1")
	s.AddUser(model.User{ID: "u1", Name: "Alice"})

	ok, _ := s.IsMember(context.Background(), "g1", "u1")
	assert.True(t, ok)
	ok, _ = s.IsMember(context.Background(), "g1", "u4")
	assert.False(t, ok)

	u, err := MemoryUsers{s}.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)
}
