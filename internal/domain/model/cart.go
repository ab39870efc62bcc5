package model

import "time"

// カート。Key はゲストのセッションか "user:<id>"（区別しない）
type Cart struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"column:cart_key;type:varchar(255);not null;uniqueIndex" json:"key"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
