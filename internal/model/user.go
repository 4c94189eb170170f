package model

import "time"

type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" bson:"_id" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" bson:"name" json:"name"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex" bson:"email" json:"email"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
