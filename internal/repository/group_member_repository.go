package repository

import (
	"context"
	"errors"

	"skillswap-chat/internal/model"
	"skillswap-chat/pkg/db"
	"skillswap-chat/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GroupMemberRepository 是群成员关系的只读来源，成员管理由 REST 侧负责
type GroupMemberRepository struct {
	db *gorm.DB
}

func NewGroupMemberRepository() *GroupMemberRepository {
	return &GroupMemberRepository{db: db.DB}
}

// 查找特定群组的特定成员
func (r *GroupMemberRepository) FindMember(ctx context.Context, groupID, userID string) (*model.GroupMember, error) {
	var member model.GroupMember
	err := r.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.L.Debug("member or group not found", zap.String("groupID", groupID), zap.String("userID", userID))
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

func (r *GroupMemberRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	member, err := r.FindMember(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	return member != nil, nil
}
