package model

import (
	"time"
)

type Group struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" bson:"_id" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" bson:"name" json:"name"`
	OwnerID   string    `gorm:"type:varchar(64);not null" bson:"admin" json:"owner_id"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`

	// mongo 中成员内嵌在群组文档里
	Members []string `gorm:"-" bson:"members" json:"members,omitempty"`
}
