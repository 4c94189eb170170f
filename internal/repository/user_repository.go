package repository

import (
	"context"
	"errors"

	"skillswap-chat/internal/model"
	"skillswap-chat/pkg/db"

	"gorm.io/gorm"
)

// UserRepository 只负责聊天需要的用户查询
type UserRepository struct {
	db *gorm.DB
}

// 创建一个新的用户存储库实例
func NewUserRepository() *UserRepository {
	return &UserRepository{db: db.DB}
}

// 通过ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 用户不存在
		}
		return nil, err
	}
	return &user, nil
}
