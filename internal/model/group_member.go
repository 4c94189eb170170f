package model

import (
	"time"
)

type GroupMember struct {
	GroupID   string    `gorm:"primaryKey;type:varchar(64)"`
	UserID    string    `gorm:"primaryKey;type:varchar(64)"`
	Role      string    `gorm:"type:varchar(20);default:'member'"` // 角色 (例如: 'owner', 'admin', 'member')
	CreatedAt time.Time
	UpdatedAt time.Time
}
