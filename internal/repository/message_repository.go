package repository

import (
	"context"
	"errors"
	"fmt"

	"skillswap-chat/internal/model"
	"skillswap-chat/pkg/db"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{db: db.DB}
}

// 保存新消息，ID 和创建时间由这里分配
func (r *MessageRepository) Insert(ctx context.Context, message *model.Message) error {
	message.ID = model.NewID()
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

// 按创建时间升序获取一个私聊会话
func (r *MessageRepository) FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	var messages []model.Message
	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at ASC, id ASC")
	err := paginate(q, limit, offset).Find(&messages).Error
	return messages, err
}

func (r *MessageRepository) FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error) {
	var messages []model.Message
	q := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("created_at ASC, id ASC")
	err := paginate(q, limit, offset).Find(&messages).Error
	return messages, err
}

func (r *MessageRepository) FindByFilePath(ctx context.Context, filePath string) (*model.Message, error) {
	var message model.Message
	if err := r.db.WithContext(ctx).Where("file_path = ?", filePath).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &message, nil
}

// 把发给 receiverID 的未读消息标记为已读
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, receiverID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, receiverID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (r *MessageRepository) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id <> '' AND (sender_id = ? OR receiver_id = ?)", userID, userID).
		Order("created_at DESC, id DESC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return summarize(messages, userID), nil
}

// summarize 要求 messages 按创建时间倒序
func summarize(messages []model.Message, userID string) []model.ConversationSummary {
	index := make(map[string]int)
	out := make([]model.ConversationSummary, 0)
	for _, msg := range messages {
		i, seen := index[msg.ConversationID]
		if !seen {
			other := msg.ReceiverID
			if other == userID {
				other = msg.SenderID
			}
			out = append(out, model.ConversationSummary{
				ConversationID: msg.ConversationID,
				OtherUserID:    other,
				LastMessage:    msg.Content,
				UpdatedAt:      msg.CreatedAt,
			})
			i = len(out) - 1
			index[msg.ConversationID] = i
		}
		if msg.ReceiverID == userID && !msg.IsRead {
			out[i].Unread++
		}
	}
	return out
}
