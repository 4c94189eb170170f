package service

import (
	"context"
	"errors"
	"fmt"

	"skillswap-chat/internal/conversation"
	"skillswap-chat/internal/event"
	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/metrics"
	"skillswap-chat/pkg/logger"

	"go.uber.org/zap"
)

// HandleEvent 处理一个客户端帧，错误只回给发起的连接
func (s *ChatService) HandleEvent(ctx context.Context, client interfaces.Client, frame []byte) {
	env, err := event.Decode(frame)
	if err != nil {
		logger.L.Warn("Dropping malformed frame", zap.String("connID", client.ConnID()), zap.Error(err))
		s.replyError(client, fmt.Errorf("%w: %w", ErrInvalidRequest, err), "")
		return
	}
	logger.L.Debug("HandleEvent called by WebSocket client", zap.String("userID", client.GetUserID()), zap.String("event", env.Event))

	switch env.Event {
	case event.SendMessage:
		var p event.SendMessagePayload
		if err := env.Bind(&p); err != nil {
			s.replyError(client, fmt.Errorf("%w: %w", ErrInvalidRequest, err), "")
			return
		}
		_, err := s.SendDirect(ctx, senderOf(client), DirectRequest{ReceiverID: p.ReceiverID, Content: p.Content, ClientMsgID: p.ClientMsgID})
		if err != nil {
			logger.L.Warn("Error processing message received via WebSocket",
				zap.String("senderID", client.GetUserID()),
				zap.String("receiverID", p.ReceiverID),
				zap.Error(err))
			s.replyError(client, err, p.ClientMsgID)
		}

	case event.GroupMessage:
		var p event.GroupMessagePayload
		if err := env.Bind(&p); err != nil {
			s.replyError(client, fmt.Errorf("%w: %w", ErrInvalidRequest, err), "")
			return
		}
		if _, err := s.SendGroup(ctx, senderOf(client), groupSendFrom(p)); err != nil {
			logger.L.Warn("Error processing group message received via WebSocket",
				zap.String("senderID", client.GetUserID()),
				zap.String("groupID", p.GroupID),
				zap.Error(err))
			s.replyError(client, err, p.ClientMsgID)
		}

	case event.JoinConversation, event.LeaveConversation, event.JoinGroup, event.LeaveGroup:
		var p event.RoomPayload
		if err := env.Bind(&p); err != nil {
			s.replyError(client, fmt.Errorf("%w: %w", ErrInvalidRequest, err), "")
			return
		}
		if err := s.handleRoomEvent(ctx, client, env.Event, p); err != nil {
			s.replyError(client, err, "")
		}

	case event.Typing, event.StopTyping:
		var p event.TypingPayload
		if err := env.Bind(&p); err != nil {
			s.replyError(client, fmt.Errorf("%w: %w", ErrInvalidRequest, err), "")
			return
		}
		if env.Event == event.Typing {
			err = s.typing.NotifyTyping(ctx, client, p.RoomKey)
		} else {
			err = s.typing.NotifyStoppedTyping(ctx, client, p.RoomKey)
		}
		if err != nil {
			s.replyError(client, err, "")
		}

	default:
		s.replyError(client, fmt.Errorf("%w: unknown event %q", ErrInvalidRequest, env.Event), "")
	}
}

// 带 message.id 的帧走 AlreadyPersisted
func groupSendFrom(p event.GroupMessagePayload) GroupSend {
	if p.Message != nil && p.Message.ID != "" {
		groupID := p.GroupID
		if groupID == "" {
			groupID = p.Message.GroupID
		}
		return AlreadyPersisted{MessageID: p.Message.ID, GroupID: groupID, ClientMsgID: p.ClientMsgID}
	}
	return ToPersist{GroupID: p.GroupID, Content: p.Content, ClientMsgID: p.ClientMsgID}
}

func (s *ChatService) handleRoomEvent(ctx context.Context, client interfaces.Client, name string, p event.RoomPayload) error {
	switch name {
	case event.JoinConversation:
		key, err := s.conversationRoom(client.GetUserID(), p)
		if err != nil {
			return err
		}
		return s.join(client, key)

	case event.LeaveConversation:
		key, err := s.conversationRoom(client.GetUserID(), p)
		if err != nil {
			return err
		}
		s.leave(ctx, client, key)
		return nil

	case event.JoinGroup:
		if p.GroupID == "" {
			return fmt.Errorf("%w: group_id is required", ErrInvalidRequest)
		}
		if err := s.requireMember(ctx, p.GroupID, client.GetUserID()); err != nil {
			logger.L.Warn("Refused group join", zap.String("userID", client.GetUserID()), zap.String("groupID", p.GroupID), zap.Error(err))
			return err
		}
		return s.join(client, p.GroupID)

	case event.LeaveGroup:
		if p.GroupID == "" {
			return fmt.Errorf("%w: group_id is required", ErrInvalidRequest)
		}
		s.leave(ctx, client, p.GroupID)
		return nil
	}
	return fmt.Errorf("%w: unknown room event %q", ErrInvalidRequest, name)
}

// 会话房间由连接身份和对方身份推导，显式的 conversation_id 必须包含自己
func (s *ChatService) conversationRoom(userID string, p event.RoomPayload) (string, error) {
	switch {
	case p.UserID != "":
		if p.UserID == userID {
			return "", ErrSelfMessage
		}
		key, err := conversation.Key(userID, p.UserID)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return key, nil
	case p.ConversationID != "":
		if _, _, err := conversation.Participants(p.ConversationID); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if !conversation.Includes(p.ConversationID, userID) {
			return "", ErrForbidden
		}
		return p.ConversationID, nil
	}
	return "", fmt.Errorf("%w: user_id or conversation_id is required", ErrInvalidRequest)
}

func (s *ChatService) join(client interfaces.Client, room string) error {
	if err := s.hub.Join(client.ConnID(), room); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	logger.L.Debug("Connection joined room", zap.String("connID", client.ConnID()), zap.String("room", room))
	if frame, err := event.Encode(event.Joined, event.JoinedPayload{RoomKey: room}); err == nil {
		s.hub.SendToConn(client.ConnID(), frame)
	}
	return nil
}

func (s *ChatService) leave(ctx context.Context, client interfaces.Client, room string) {
	if s.typing.IsTyping(client.ConnID(), room) {
		if err := s.typing.NotifyStoppedTyping(ctx, client, room); err != nil {
			logger.L.Warn("Failed to stop typing on leave", zap.String("room", room), zap.Error(err))
		}
	}
	s.hub.Leave(client.ConnID(), room)
}

func (s *ChatService) HandleClientConnected(client interfaces.Client) {
	logger.L.Debug("Client connected", zap.String("userID", client.GetUserID()), zap.String("connID", client.ConnID()))
}

func (s *ChatService) HandleClientDisconnected(client interfaces.Client, rooms []string) {
	logger.L.Debug("Client disconnected",
		zap.String("userID", client.GetUserID()),
		zap.String("connID", client.ConnID()),
		zap.Strings("rooms", rooms))
	s.typing.ConnectionClosed(client)
}

func (s *ChatService) broadcast(ctx context.Context, room, name string, payload any) {
	frame, err := event.Encode(name, payload)
	if err != nil {
		logger.L.Error("Failed to encode broadcast", zap.String("event", name), zap.Error(err))
		return
	}
	if err := s.hub.BroadcastToRoom(ctx, room, frame, ""); err != nil {
		logger.L.Error("Failed to queue broadcast", zap.String("room", room), zap.String("event", name), zap.Error(err))
	}
}

// 连接已断开时 SendToConn 返回 false，错误回执被丢弃
func (s *ChatService) replyError(client interfaces.Client, err error, clientMsgID string) {
	code := ErrorCode(err)
	metrics.SendErrors.WithLabelValues(code).Inc()

	frame, encErr := event.Encode(event.MessageError, event.ErrorPayload{Code: code, Message: err.Error(), ClientMsgID: clientMsgID})
	if encErr != nil {
		logger.L.Error("Failed to encode error event", zap.Error(encErr))
		return
	}
	if !s.hub.SendToConn(client.ConnID(), frame) {
		logger.L.Debug("Error acknowledgement dropped, connection gone", zap.String("connID", client.ConnID()), zap.String("code", code))
	}
}

// ErrorCode 是 messageError 中稳定的错误码
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSelfMessage):
		return "self_message"
	case errors.Is(err, ErrReceiverNotFound):
		return "receiver_not_found"
	case errors.Is(err, ErrNotGroupMember):
		return "not_member"
	case errors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrPersistence):
		return "persistence_failed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}
