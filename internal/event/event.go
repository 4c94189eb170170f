// Package event defines the JSON frames exchanged on the socket.
package event

import (
	"encoding/json"
	"fmt"

	"skillswap-chat/internal/model"
)

// 客户端 -> 服务端
const (
	SendMessage       = "sendMessage"
	JoinConversation  = "joinConversation"
	LeaveConversation = "leaveConversation"
	JoinGroup         = "joinGroup"
	LeaveGroup        = "leaveGroup"
	GroupMessage      = "groupMessage"
	Typing            = "typing"
	StopTyping        = "stopTyping"
)

// 服务端 -> 客户端
const (
	NewMessage        = "newMessage"
	NewGroupMessage   = "newGroupMessage"
	MessageError      = "messageError"
	UserTyping        = "userTyping"
	UserStoppedTyping = "userStoppedTyping"
	UpdateOnlineUsers = "updateOnlineUsers"
	MessagesRead      = "messagesRead"
	Joined            = "joined"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode 将事件和负载序列化为一帧
func Encode(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	return json.Marshal(Envelope{Event: name, Data: raw})
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("envelope without event name")
	}
	return env, nil
}

// Bind 解析负载到 v
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Event, err)
	}
	return nil
}

type SendMessagePayload struct {
	ReceiverID  string `json:"receiver_id"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type RoomPayload struct {
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	GroupID        string `json:"group_id,omitempty"`
}

// GroupMessagePayload 带 Message.ID 时表示消息已经通过 REST 落库，只需广播
type GroupMessagePayload struct {
	GroupID     string         `json:"group_id"`
	Content     string         `json:"content,omitempty"`
	ClientMsgID string         `json:"client_msg_id,omitempty"`
	Message     *model.Message `json:"message,omitempty"`
}

type TypingPayload struct {
	RoomKey  string `json:"room_key"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type ReadPayload struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	Count          int64  `json:"count"`
}

type JoinedPayload struct {
	RoomKey string `json:"room_key"`
}

type OnlineUser struct {
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	ConnectionID string `json:"connection_id"`
	Connections  int    `json:"connections"`
}
