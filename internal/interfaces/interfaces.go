package interfaces

import (
	"context"

	"skillswap-chat/internal/model"
)

type Client interface {
	ConnID() string
	GetUserID() string
	DisplayName() string
	QueueBytes(data []byte) error
	Close()
}

// 定义了处理传入事件的接口
// service.ChatService实现
type EventHandler interface {
	HandleEvent(ctx context.Context, client Client, frame []byte)
}

// 定义了处理连接事件的方法
// service.ChatService实现
type ConnectionEventHandler interface {
	HandleClientConnected(client Client)
	HandleClientDisconnected(client Client, rooms []string)
}

type RoomManager interface {
	Join(connID, room string) error
	Leave(connID, room string)
	InRoom(connID, room string) bool
	Rooms(connID string) []string
}

type Broadcaster interface {
	// exceptConnID 为空时房间内所有连接都会收到
	BroadcastToRoom(ctx context.Context, room string, data []byte, exceptConnID string) error
	SendToConn(connID string, data []byte) bool
}

type ConnectionManager interface {
	RoomManager
	Broadcaster
	Register(client Client)
	Unregister(client Client)
	SetEventHandler(handler ConnectionEventHandler)
}

// MessageStore 是只追加的消息日志，ID 由存储在插入时分配
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error)
	FindByFilePath(ctx context.Context, filePath string) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID, receiverID string) (int64, error)
	ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
}

type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

type MembershipSource interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}
