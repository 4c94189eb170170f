package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"skillswap-chat/internal/event"
	"skillswap-chat/internal/model"
	"skillswap-chat/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = Sender{ID: "u1", Name: "Alice", ConnID: "c1"}
	bob   = Sender{ID: "u2", Name: "Bob", ConnID: "c2"}
	dave  = Sender{ID: "u4", Name: "Dave", ConnID: "c4"}
)

func TestSendDirect_PersistsThenBroadcasts(t *testing.T) {
	svc, hub, store := newTestService(t)
	ctx := context.Background()

	msg, err := svc.SendDirect(ctx, alice, DirectRequest{ReceiverID: "u2", Content: " hello ", ClientMsgID: "tmp-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, store.Count())
	stored, err := store.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "u1-u2", stored.ConversationID)
	assert.Equal(t, "hello", stored.Content)
	assert.Equal(t, model.KindText, stored.Kind)
	assert.False(t, stored.IsRead)
	assert.Empty(t, stored.ClientMsgID)

	sent := hub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "u1-u2", sent[0].room)
	assert.Equal(t, event.NewMessage, sent[0].env.Event)
	assert.Empty(t, sent[0].except)

	got := decodeMessage(t, sent[0].env)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "Alice", got.SenderName)
	assert.Equal(t, "tmp-1", got.ClientMsgID)
}

func TestSendDirect_ConversationKeyIsOrderIndependent(t *testing.T) {
	svc, hub, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendDirect(ctx, alice, DirectRequest{ReceiverID: "u2", Content: "ping"})
	require.NoError(t, err)
	_, err = svc.SendDirect(ctx, bob, DirectRequest{ReceiverID: "u1", Content: "pong"})
	require.NoError(t, err)

	sent := hub.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].room, sent[1].room)
}

func TestSendDirect_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  DirectRequest
		want error
	}{
		{"missing receiver", DirectRequest{Content: "hi"}, ErrInvalidRequest},
		{"blank content", DirectRequest{ReceiverID: "u2", Content: "   "}, ErrInvalidRequest},
		{"self message", DirectRequest{ReceiverID: "u1", Content: "hi"}, ErrSelfMessage},
		{"unknown receiver", DirectRequest{ReceiverID: "u9", Content: "hi"}, ErrReceiverNotFound},
		{"malformed receiver", DirectRequest{ReceiverID: "u-2", Content: "hi"}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, hub, store := newTestService(t)
			_, err := svc.SendDirect(context.Background(), alice, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, store.Count())
			assert.Empty(t, hub.sent())
		})
	}
}

func TestUploadPreChecks(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	key, err := svc.CheckDirectTarget(ctx, alice, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1-u2", key)

	_, err = svc.CheckDirectTarget(ctx, alice, "u1")
	assert.ErrorIs(t, err, ErrSelfMessage)
	_, err = svc.CheckDirectTarget(ctx, alice, "u9")
	assert.ErrorIs(t, err, ErrReceiverNotFound)
	_, err = svc.CheckDirectTarget(ctx, alice, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.NoError(t, svc.CheckGroupSender(ctx, alice, "g1"))
	assert.ErrorIs(t, svc.CheckGroupSender(ctx, Sender{ID: "u4", Name: "Dave"}, "g1"), ErrNotGroupMember)
	assert.ErrorIs(t, svc.CheckGroupSender(ctx, alice, ""), ErrInvalidRequest)

	assert.Equal(t, 0, store.Count())
}

type failingStore struct {
	*repository.MemoryStore
}

func (failingStore) Insert(context.Context, *model.Message) error {
	return errors.New("connection refused")
}

func TestSendDirect_PersistenceFailureDoesNotBroadcast(t *testing.T) {
	_, hub, store := newTestService(t)
	svc := NewChatService(hub, failingStore{store}, repository.MemoryUsers{MemoryStore: store}, store)

	_, err := svc.SendDirect(context.Background(), alice, DirectRequest{ReceiverID: "u2", Content: "hi"})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "persistence_failed", ErrorCode(err))
	assert.Empty(t, hub.sent())
}

func TestSendDirect_WithoutUserDirectory(t *testing.T) {
	store := repository.NewMemoryStore()
	hub := newRecordingHub()
	svc := NewChatService(hub, store, nil, store)

	_, err := svc.SendDirect(context.Background(), alice, DirectRequest{ReceiverID: "u9", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())
}

func TestSendGroup_ToPersist(t *testing.T) {
	svc, hub, store := newTestService(t)
	ctx := context.Background()

	msg, err := svc.SendGroup(ctx, alice, ToPersist{GroupID: "g1", Content: "hi", ClientMsgID: "tmp-9"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())

	stored, _ := store.FindByID(ctx, msg.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "g1", stored.GroupID)
	assert.Empty(t, stored.ConversationID)

	sent := hub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "g1", sent[0].room)
	assert.Equal(t, event.NewGroupMessage, sent[0].env.Event)
	assert.Equal(t, "tmp-9", decodeMessage(t, sent[0].env).ClientMsgID)
}

func TestSendGroup_NonMemberRejected(t *testing.T) {
	svc, hub, store := newTestService(t)

	_, err := svc.SendGroup(context.Background(), dave, ToPersist{GroupID: "g1", Content: "hi"})
	assert.ErrorIs(t, err, ErrNotGroupMember)
	assert.Equal(t, 0, store.Count())
	assert.Empty(t, hub.sent())
}

func TestSendGroup_AlreadyPersistedBroadcastsOnly(t *testing.T) {
	svc, hub, store := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateGroupMessage(ctx, alice, "g1", "from rest", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())
	assert.Empty(t, hub.sent(), "creating does not broadcast")

	msg, err := svc.SendGroup(ctx, alice, AlreadyPersisted{MessageID: created.ID, GroupID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, msg.ID)
	assert.Equal(t, 1, store.Count(), "no additional record")

	sent := hub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "g1", sent[0].room)
	assert.Equal(t, created.ID, decodeMessage(t, sent[0].env).ID)
}

func TestSendGroup_AlreadyPersistedChecks(t *testing.T) {
	svc, hub, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateGroupMessage(ctx, alice, "g1", "from rest", nil)
	require.NoError(t, err)

	_, err = svc.SendGroup(ctx, bob, AlreadyPersisted{MessageID: created.ID, GroupID: "g1"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SendGroup(ctx, alice, AlreadyPersisted{MessageID: created.ID, GroupID: "g2"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SendGroup(ctx, alice, AlreadyPersisted{MessageID: model.NewID(), GroupID: "g1"})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = svc.SendGroup(ctx, alice, AlreadyPersisted{GroupID: "g1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, hub.sent())
}

func TestSendDirectFile_DefaultsContentToFileName(t *testing.T) {
	svc, hub, _ := newTestService(t)
	file := &FileInfo{Name: "diagram.png", Key: "diagram_abc.png", Size: 42, MimeType: "image/png", Kind: model.KindImage}

	msg, err := svc.SendDirectFile(context.Background(), alice, "u2", "", file)
	require.NoError(t, err)
	assert.Equal(t, "diagram.png", msg.Content)
	assert.Equal(t, model.KindImage, msg.Kind)
	assert.Equal(t, "diagram_abc.png", msg.FilePath)
	assert.Equal(t, "u1-u2", msg.ConversationID)
	require.Len(t, hub.sent(), 1)

	_, err = svc.SendDirectFile(context.Background(), alice, "u2", "", nil)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestMarkRead_BroadcastsReadReceipt(t *testing.T) {
	svc, hub, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendDirect(ctx, alice, DirectRequest{ReceiverID: "u2", Content: "a"})
	require.NoError(t, err)
	_, err = svc.SendDirect(ctx, alice, DirectRequest{ReceiverID: "u2", Content: "b"})
	require.NoError(t, err)

	n, err := svc.MarkRead(ctx, "u2", "u1-u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sent := hub.sent()
	last := sent[len(sent)-1]
	assert.Equal(t, event.MessagesRead, last.env.Event)
	var p event.ReadPayload
	require.NoError(t, json.Unmarshal(last.env.Data, &p))
	assert.Equal(t, event.ReadPayload{ConversationID: "u1-u2", ReaderID: "u2", Count: 2}, p)

	// 没有未读消息时不再广播
	n, err = svc.MarkRead(ctx, "u2", "u1-u2")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, hub.sent(), len(sent))

	_, err = svc.MarkRead(ctx, "u3", "u1-u2")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.MarkRead(ctx, "u1", "garbage")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConversationHistory_MarksRead(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendDirect(ctx, alice, DirectRequest{ReceiverID: "u2", Content: "first"})
	require.NoError(t, err)
	_, err = svc.SendDirect(ctx, bob, DirectRequest{ReceiverID: "u1", Content: "second"})
	require.NoError(t, err)

	history, err := svc.ConversationHistory(ctx, "u2", "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "Alice", history[0].SenderName)
	assert.Equal(t, "Bob", history[1].SenderName)

	convs, err := svc.Conversations(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Alice", convs[0].OtherUserName)
	assert.Zero(t, convs[0].Unread)

	unread, err := store.ListConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread[0].Unread, "only the reader's side is marked")
}

func TestGroupHistory_MembersOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SendGroup(ctx, alice, ToPersist{GroupID: "g1", Content: "hi"})
	require.NoError(t, err)

	history, err := svc.GroupHistory(ctx, "u3", "g1", 50, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Alice", history[0].SenderName)

	_, err = svc.GroupHistory(ctx, "u4", "g1", 50, 0)
	assert.ErrorIs(t, err, ErrNotGroupMember)
}

func TestAttachment_Access(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	direct := &FileInfo{Name: "a.pdf", Key: "a_1.pdf", Size: 1, MimeType: "application/pdf", Kind: model.KindFile}
	_, err := svc.SendDirectFile(ctx, alice, "u2", "", direct)
	require.NoError(t, err)

	group := &FileInfo{Name: "b.pdf", Key: "b_1.pdf", Size: 1, MimeType: "application/pdf", Kind: model.KindFile}
	_, err = svc.CreateGroupMessage(ctx, alice, "g1", "", group)
	require.NoError(t, err)

	_, err = svc.Attachment(ctx, "u2", "a_1.pdf")
	assert.NoError(t, err)
	_, err = svc.Attachment(ctx, "u3", "a_1.pdf")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Attachment(ctx, "u3", "b_1.pdf")
	assert.NoError(t, err)
	_, err = svc.Attachment(ctx, "u4", "b_1.pdf")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Attachment(ctx, "u1", "missing.pdf")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
