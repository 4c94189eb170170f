package service

import (
	"context"
	"testing"

	"skillswap-chat/internal/event"
	"skillswap-chat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleEvent_SendMessage(t *testing.T) {
	svc, hub, store := newTestService(t)
	c1 := connect(hub, "c1", "u1", "Alice")
	ctx := context.Background()

	svc.HandleEvent(ctx, c1, frame(t, event.SendMessage, event.SendMessagePayload{ReceiverID: "u2", Content: "hello", ClientMsgID: "tmp-1"}))

	assert.Equal(t, 1, store.Count())
	sent := hub.sent()
	require.Len(t, sent, 1)
	got := decodeMessage(t, sent[0].env)
	assert.Equal(t, "u1", got.SenderID, "sender comes from the connection")
	assert.Equal(t, "u1-u2", got.ConversationID)
	assert.Empty(t, hub.sentTo("c1"))
}

func TestHandleEvent_ErrorsGoToOriginatorOnly(t *testing.T) {
	svc, hub, store := newTestService(t)
	c1 := connect(hub, "c1", "u1", "Alice")
	connect(hub, "c2", "u2", "Bob")
	ctx := context.Background()

	svc.HandleEvent(ctx, c1, frame(t, event.SendMessage, event.SendMessagePayload{ReceiverID: "u2", ClientMsgID: "tmp-2"}))

	assert.Equal(t, 0, store.Count())
	assert.Empty(t, hub.sent())
	replies := hub.sentTo("c1")
	require.Len(t, replies, 1)
	p := decodeError(t, replies[0])
	assert.Equal(t, "invalid_request", p.Code)
	assert.Equal(t, "tmp-2", p.ClientMsgID)
	assert.Empty(t, hub.sentTo("c2"))
}

func TestHandleEvent_MalformedAndUnknown(t *testing.T) {
	svc, hub, _ := newTestService(t)
	c1 := connect(hub, "c1", "u1", "Alice")
	ctx := context.Background()

	svc.HandleEvent(ctx, c1, []byte("not json"))
	svc.HandleEvent(ctx, c1, frame(t, "dance", map[string]string{}))
	svc.HandleEvent(ctx, c1, []byte(`{"event":"sendMessage"}`))

	replies := hub.sentTo("c1")
	require.Len(t, replies, 3)
	for _, r := range replies {
		assert.Equal(t, "invalid_request", decodeError(t, r).Code)
	}
}

func TestHandleEvent_GroupMessagePaths(t *testing.T) {
	svc, hub, store := newTestService(t)
	c1 := connect(hub, "c1", "u1", "Alice")
	ctx := context.Background()

	svc.HandleEvent(ctx, c1, frame(t, event.GroupMessage, event.GroupMessagePayload{GroupID: "g1", Content: "socket"}))
	require.Equal(t, 1, store.Count())

	created, err := svc.CreateGroupMessage(ctx, alice, "g1", "rest", nil)
	require.NoError(t, err)
	svc.HandleEvent(ctx, c1, frame(t, event.GroupMessage, event.GroupMessagePayload{
		GroupID: "g1",
		Message: &model.Message{ID: created.ID, Content: "rest"},
	}))

	assert.Equal(t, 2, store.Count(), "re-submitted message is not stored again")
	sent := hub.sent()
	require.Len(t, sent, 2)
	for _, s := range sent {
		assert.Equal(t, "g1", s.room)
		assert.Equal(t, event.NewGroupMessage, s.env.Event)
	}
	assert.Equal(t, created.ID, decodeMessage(t, sent[1].env).ID)
}

func TestHandleEvent_JoinConversation(t *testing.T) {
	svc, hub, _ := newTestService(t)
	c1 := connect(hub, "c1", "u1", "Alice")
	ctx := context.Background()

	svc.HandleEvent(ctx, c1, frame(t, event.JoinConversation, event.RoomPayload{UserID: "u2"}))
	assert.True(t, hub.InRoom("c1", "u1-u2"))

	replies := hub.sentTo("c1")
	require.Len(t, replies, 1)
	assert.Equal(t, event.Joined, replies[0].Event)

	// 不能加入不包含自己的会话
	svc.HandleEvent(ctx, c1, frame(t, event.JoinConversation, event.RoomPayload{ConversationID: "u2-u3"}))
	assert.False(t, hub.InRoom("c1", "u2-u3"))
	replies = hub.sentTo("c1")
	require.Len(t, replies, 2)
	assert.Equal(t, "forbidden", decodeError(t, replies[1]).Code)

	svc.HandleEvent(ctx, c1, frame(t, event.JoinConversation, event.RoomPayload{ConversationID: "u1-u3"}))
	assert.True(t, hub.InRoom("c1", "u1-u3"))

	svc.HandleEvent(ctx, c1, frame(t, event.LeaveConversation, event.RoomPayload{UserID: "u2"}))
	assert.False(t, hub.InRoom("c1", "u1-u2"))
}

func TestHandleEvent_JoinGroupRequiresMembership(t *testing.T) {
	svc, hub, _ := newTestService(t)
	c2 := connect(hub, "c2", "u2", "Bob")
	c4 := connect(hub, "c4", "u4", "Dave")
	ctx := context.Background()

	svc.HandleEvent(ctx, c2, frame(t, event.JoinGroup, event.RoomPayload{GroupID: "g1"}))
	svc.HandleEvent(ctx, c4, frame(t, event.JoinGroup, event.RoomPayload{GroupID: "g1"}))

	assert.True(t, hub.InRoom("c2", "g1"))
	assert.False(t, hub.InRoom("c4", "g1"))

	replies := hub.sentTo("c4")
	require.Len(t, replies, 1)
	assert.Equal(t, "not_member", decodeError(t, replies[0]).Code)

	svc.HandleEvent(ctx, c2, frame(t, event.LeaveGroup, event.RoomPayload{GroupID: "g1"}))
	assert.False(t, hub.InRoom("c2", "g1"))
}

func TestHandleEvent_ErrorDroppedForGoneConnection(t *testing.T) {
	svc, hub, store := newTestService(t)
	c1 := connect(hub, "c1", "u1", "Alice")
	hub.Unregister(c1)

	svc.HandleEvent(context.Background(), c1, frame(t, event.SendMessage, event.SendMessagePayload{ReceiverID: "u1", Content: "x"}))
	assert.Empty(t, hub.sentTo("c1"))

	// 已断开的发送者的有效消息仍然落库并广播
	svc.HandleEvent(context.Background(), c1, frame(t, event.SendMessage, event.SendMessagePayload{ReceiverID: "u2", Content: "x"}))
	assert.Equal(t, 1, store.Count())
	assert.Len(t, hub.sent(), 1)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "self_message", ErrorCode(ErrSelfMessage))
	assert.Equal(t, "receiver_not_found", ErrorCode(ErrReceiverNotFound))
	assert.Equal(t, "not_member", ErrorCode(ErrNotGroupMember))
	assert.Equal(t, "message_not_found", ErrorCode(ErrMessageNotFound))
	assert.Equal(t, "not_in_room", ErrorCode(ErrNotInRoom))
	assert.Equal(t, "internal", ErrorCode(assert.AnError))
}
