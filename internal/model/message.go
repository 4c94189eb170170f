package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// KindForMime 图片类型之外的附件一律视为文件
func KindForMime(mimeType string) MessageKind {
	if strings.HasPrefix(mimeType, "image/") {
		return KindImage
	}
	return KindFile
}

type Message struct {
	ID             string      `gorm:"primaryKey;type:varchar(24)" bson:"_id" json:"id"`
	SenderID       string      `gorm:"type:varchar(64);not null;index:idx_sender_receiver,priority:1" bson:"sender_id" json:"sender_id"`
	ReceiverID     string      `gorm:"type:varchar(64);index:idx_sender_receiver,priority:2" bson:"receiver_id,omitempty" json:"receiver_id,omitempty"`
	GroupID        string      `gorm:"type:varchar(64);index:idx_group_created,priority:1" bson:"group_id,omitempty" json:"group_id,omitempty"`
	Content        string      `gorm:"type:text;not null" bson:"content" json:"content"`
	Kind           MessageKind `gorm:"column:message_type;type:varchar(10);default:text" bson:"message_type" json:"message_type"`
	FileName       string      `gorm:"type:varchar(255)" bson:"file_name,omitempty" json:"file_name,omitempty"`
	FilePath       string      `gorm:"type:varchar(255);index" bson:"file_path,omitempty" json:"file_path,omitempty"`
	FileSize       int64       `bson:"file_size,omitempty" json:"file_size,omitempty"`
	MimeType       string      `gorm:"type:varchar(127)" bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	IsRead         bool        `gorm:"default:false" bson:"is_read" json:"is_read"`
	ConversationID string      `gorm:"type:varchar(160);index:idx_conversation_created,priority:1" bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	CreatedAt      time.Time   `gorm:"index:idx_conversation_created,priority:2;index:idx_group_created,priority:2" bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updated_at"`

	// 仅用于下发，不落库
	SenderName  string `gorm:"-" bson:"-" json:"sender_name,omitempty"`
	ClientMsgID string `gorm:"-" bson:"-" json:"client_msg_id,omitempty"`
}

// NewID 生成服务端消息ID，24位十六进制，不含会话键分隔符
func NewID() string {
	return primitive.NewObjectID().Hex()
}

func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	return nil
}

func (m *Message) IsGroup() bool {
	return m.GroupID != ""
}

// ConversationSummary 是会话列表中的一项
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	OtherUserID    string    `json:"other_user_id"`
	OtherUserName  string    `json:"other_user_name"`
	LastMessage    string    `json:"last_message"`
	UpdatedAt      time.Time `json:"updated_at"`
	Unread         int       `json:"unread"`
}
