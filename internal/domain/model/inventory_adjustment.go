package model

import (
	"time"

	"github.com/shopspring/decimal"
)

//在庫調整の履歴

type InventoryAdjustment struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID   int64           `gorm:"not null;index" json:"product_id"`
	AdminUserID int64           `gorm:"not null;index" json:"admin_user_id"`
	Delta       decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"delta"`
	Reason      string          `gorm:"type:varchar(255);not null" json:"reason"`
	CreatedAt   time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}
