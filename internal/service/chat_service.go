package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"skillswap-chat/internal/conversation"
	"skillswap-chat/internal/event"
	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/metrics"
	"skillswap-chat/internal/model"
	"skillswap-chat/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSelfMessage      = errors.New("cannot send a message to yourself")
	ErrReceiverNotFound = errors.New("receiver not found")
	ErrNotGroupMember   = errors.New("not a member of this group")
	ErrMessageNotFound  = errors.New("message not found")
	ErrForbidden        = errors.New("forbidden")
	ErrPersistence      = errors.New("failed to persist message")
)

// Sender 是已认证连接（或 REST 请求）上的身份，客户端声明的发送者一律忽略
type Sender struct {
	ID     string
	Name   string
	ConnID string // REST 请求为空
}

func senderOf(client interfaces.Client) Sender {
	return Sender{ID: client.GetUserID(), Name: client.DisplayName(), ConnID: client.ConnID()}
}

type DirectRequest struct {
	ReceiverID  string
	Content     string
	ClientMsgID string
}

// GroupSend 是群消息的两种入口：AlreadyPersisted 或 ToPersist
type GroupSend interface {
	targetGroup() string
}

// AlreadyPersisted 消息已经通过 REST 落库，只做广播
type AlreadyPersisted struct {
	MessageID   string
	GroupID     string
	ClientMsgID string
}

// ToPersist 先落库再广播
type ToPersist struct {
	GroupID     string
	Content     string
	ClientMsgID string
}

func (a AlreadyPersisted) targetGroup() string { return a.GroupID }
func (p ToPersist) targetGroup() string        { return p.GroupID }

type ChatService struct {
	hub      interfaces.ConnectionManager
	messages interfaces.MessageStore
	users    interfaces.UserDirectory
	groups   interfaces.MembershipSource
	typing   *Typing
}

// users 可以为 nil，此时不校验接收者是否存在，也不补全用户名
func NewChatService(hub interfaces.ConnectionManager, messages interfaces.MessageStore, users interfaces.UserDirectory, groups interfaces.MembershipSource) *ChatService {
	return &ChatService{
		hub:      hub,
		messages: messages,
		users:    users,
		groups:   groups,
		typing:   NewTyping(hub),
	}
}

func (s *ChatService) Typing() *Typing {
	return s.typing
}

// SendDirect 校验、落库，然后广播到会话房间
func (s *ChatService) SendDirect(ctx context.Context, sender Sender, req DirectRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	if req.ReceiverID == "" || content == "" {
		return nil, fmt.Errorf("%w: receiver_id and content are required", ErrInvalidRequest)
	}
	msg := &model.Message{
		SenderID:   sender.ID,
		ReceiverID: req.ReceiverID,
		Content:    content,
		Kind:       model.KindText,
	}
	return s.sendDirect(ctx, sender, msg, req.ClientMsgID)
}

// SendDirectFile 附件已经通过校验并保存，content 为空时使用文件名
func (s *ChatService) SendDirectFile(ctx context.Context, sender Sender, receiverID, content string, file *FileInfo) (*model.Message, error) {
	if file == nil {
		return nil, ErrNoFile
	}
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver_id is required", ErrInvalidRequest)
	}
	return s.sendDirect(ctx, sender, attachmentMessage(sender.ID, content, file, func(m *model.Message) {
		m.ReceiverID = receiverID
	}), "")
}

func attachmentMessage(senderID, content string, file *FileInfo, target func(*model.Message)) *model.Message {
	content = strings.TrimSpace(content)
	if content == "" {
		content = file.Name
	}
	msg := &model.Message{
		SenderID: senderID,
		Content:  content,
		Kind:     file.Kind,
		FileName: file.Name,
		FilePath: file.Key,
		FileSize: file.Size,
		MimeType: file.MimeType,
	}
	target(msg)
	return msg
}

// CheckDirectTarget 在保存附件之前做的校验：不能发给自己，接收者必须存在
func (s *ChatService) CheckDirectTarget(ctx context.Context, sender Sender, receiverID string) (string, error) {
	if receiverID == "" {
		return "", fmt.Errorf("%w: receiver_id is required", ErrInvalidRequest)
	}
	if receiverID == sender.ID {
		return "", ErrSelfMessage
	}
	key, err := conversation.Key(sender.ID, receiverID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if s.users != nil {
		receiver, err := s.users.FindByID(ctx, receiverID)
		if err != nil {
			return "", fmt.Errorf("failed to look up receiver: %w", err)
		}
		if receiver == nil {
			return "", ErrReceiverNotFound
		}
	}
	return key, nil
}

// CheckGroupSender 在保存附件之前确认发送者是群成员
func (s *ChatService) CheckGroupSender(ctx context.Context, sender Sender, groupID string) error {
	if groupID == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidRequest)
	}
	return s.requireMember(ctx, groupID, sender.ID)
}

func (s *ChatService) sendDirect(ctx context.Context, sender Sender, msg *model.Message, clientMsgID string) (*model.Message, error) {
	key, err := s.CheckDirectTarget(ctx, sender, msg.ReceiverID)
	if err != nil {
		return nil, err
	}
	msg.ConversationID = key

	// 发送方断开不应中断落库和广播
	ctx = context.WithoutCancel(ctx)
	if err := s.messages.Insert(ctx, msg); err != nil {
		logger.L.Error("Error saving direct message", zap.String("senderID", sender.ID), zap.String("conversationID", key), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.MessagesPersisted.WithLabelValues("direct").Inc()
	logger.L.Debug("Direct message saved", zap.String("messageID", msg.ID), zap.String("conversationID", key))

	msg.SenderName = sender.Name
	msg.ClientMsgID = clientMsgID
	s.broadcast(ctx, key, event.NewMessage, msg)
	return msg, nil
}

// SendGroup 两种入口汇合到 fanOutGroup
func (s *ChatService) SendGroup(ctx context.Context, sender Sender, send GroupSend) (*model.Message, error) {
	if send == nil || send.targetGroup() == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidRequest)
	}
	ctx = context.WithoutCancel(ctx)

	switch req := send.(type) {
	case AlreadyPersisted:
		if req.MessageID == "" {
			return nil, fmt.Errorf("%w: message id is required", ErrInvalidRequest)
		}
		msg, err := s.messages.FindByID(ctx, req.MessageID)
		if err != nil {
			return nil, fmt.Errorf("failed to load message %s: %w", req.MessageID, err)
		}
		if msg == nil {
			return nil, ErrMessageNotFound
		}
		if msg.GroupID != req.GroupID || msg.SenderID != sender.ID {
			return nil, fmt.Errorf("%w: message %s does not belong to this sender and group", ErrForbidden, req.MessageID)
		}
		return s.fanOutGroup(ctx, sender, msg, req.ClientMsgID), nil

	case ToPersist:
		content := strings.TrimSpace(req.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: content is required", ErrInvalidRequest)
		}
		msg := &model.Message{SenderID: sender.ID, GroupID: req.GroupID, Content: content, Kind: model.KindText}
		if err := s.persistGroup(ctx, sender, msg); err != nil {
			return nil, err
		}
		return s.fanOutGroup(ctx, sender, msg, req.ClientMsgID), nil

	default:
		return nil, fmt.Errorf("%w: unsupported group send %T", ErrInvalidRequest, send)
	}
}

// CreateGroupMessage 只落库不广播，调用方随后以 AlreadyPersisted 提交给 SendGroup
func (s *ChatService) CreateGroupMessage(ctx context.Context, sender Sender, groupID, content string, file *FileInfo) (*model.Message, error) {
	if groupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidRequest)
	}
	var msg *model.Message
	if file != nil {
		msg = attachmentMessage(sender.ID, content, file, func(m *model.Message) { m.GroupID = groupID })
	} else {
		content = strings.TrimSpace(content)
		if content == "" {
			return nil, fmt.Errorf("%w: content is required", ErrInvalidRequest)
		}
		msg = &model.Message{SenderID: sender.ID, GroupID: groupID, Content: content, Kind: model.KindText}
	}
	if err := s.persistGroup(context.WithoutCancel(ctx), sender, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ChatService) persistGroup(ctx context.Context, sender Sender, msg *model.Message) error {
	if err := s.requireMember(ctx, msg.GroupID, sender.ID); err != nil {
		return err
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		logger.L.Error("Error saving group message", zap.String("senderID", sender.ID), zap.String("groupID", msg.GroupID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.MessagesPersisted.WithLabelValues("group").Inc()
	logger.L.Debug("Group message saved", zap.String("messageID", msg.ID), zap.String("groupID", msg.GroupID))
	return nil
}

func (s *ChatService) fanOutGroup(ctx context.Context, sender Sender, msg *model.Message, clientMsgID string) *model.Message {
	msg.SenderName = sender.Name
	msg.ClientMsgID = clientMsgID
	s.broadcast(ctx, msg.GroupID, event.NewGroupMessage, msg)
	return msg
}

func (s *ChatService) requireMember(ctx context.Context, groupID, userID string) error {
	ok, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to check group membership: %w", err)
	}
	if !ok {
		return ErrNotGroupMember
	}
	return nil
}

// MarkRead 把会话中发给 userID 的消息标记为已读，并通知房间
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) (int64, error) {
	if _, _, err := conversation.Participants(conversationID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !conversation.Includes(conversationID, userID) {
		return 0, ErrForbidden
	}
	n, err := s.messages.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	if n > 0 {
		s.broadcast(ctx, conversationID, event.MessagesRead, event.ReadPayload{ConversationID: conversationID, ReaderID: userID, Count: n})
	}
	return n, nil
}

// ConversationHistory 按时间升序返回，并把对方发来的消息标记为已读
func (s *ChatService) ConversationHistory(ctx context.Context, userID, peerID string, limit, offset int) ([]model.Message, error) {
	key, err := conversation.Key(userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	messages, err := s.messages.FindByConversation(ctx, key, limit, offset)
	if err != nil {
		logger.L.Error("Error fetching chat history", zap.String("conversationID", key), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve chat history: %w", err)
	}
	if _, err := s.MarkRead(ctx, userID, key); err != nil {
		logger.L.Warn("Failed to mark conversation read", zap.String("conversationID", key), zap.Error(err))
	}
	s.fillSenderNames(ctx, messages)
	return messages, nil
}

func (s *ChatService) GroupHistory(ctx context.Context, userID, groupID string, limit, offset int) ([]model.Message, error) {
	if groupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidRequest)
	}
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	messages, err := s.messages.FindByGroup(ctx, groupID, limit, offset)
	if err != nil {
		logger.L.Error("Error fetching group history", zap.String("groupID", groupID), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve group history: %w", err)
	}
	s.fillSenderNames(ctx, messages)
	return messages, nil
}

func (s *ChatService) Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	convs, err := s.messages.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := s.displayNames(ctx, func(yield func(string)) {
		for _, c := range convs {
			yield(c.OtherUserID)
		}
	})
	for i := range convs {
		convs[i].OtherUserName = names[convs[i].OtherUserID]
	}
	return convs, nil
}

// Attachment 只有发送者、接收者或群成员可以访问附件
func (s *ChatService) Attachment(ctx context.Context, userID, filePath string) (*model.Message, error) {
	msg, err := s.messages.FindByFilePath(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to look up attachment: %w", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.IsGroup() {
		if err := s.requireMember(ctx, msg.GroupID, userID); err != nil {
			return nil, ErrForbidden
		}
		return msg, nil
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return nil, ErrForbidden
	}
	return msg, nil
}

func (s *ChatService) fillSenderNames(ctx context.Context, messages []model.Message) {
	names := s.displayNames(ctx, func(yield func(string)) {
		for _, m := range messages {
			yield(m.SenderID)
		}
	})
	for i := range messages {
		messages[i].SenderName = names[messages[i].SenderID]
	}
}

func (s *ChatService) displayNames(ctx context.Context, ids func(yield func(string))) map[string]string {
	names := make(map[string]string)
	if s.users == nil {
		return names
	}
	ids(func(id string) {
		if _, done := names[id]; done {
			return
		}
		user, err := s.users.FindByID(ctx, id)
		if err != nil || user == nil {
			logger.L.Warn("Failed to find user, using fallback", zap.String("userID", id), zap.Error(err))
			names[id] = "Unknown"
			return
		}
		names[id] = user.Name
	})
	return names
}
