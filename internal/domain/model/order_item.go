package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文明細。価格はカートのスナップショットから計算済みの値を持つ
type OrderItem struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             int64           `gorm:"not null;index" json:"order_id"`
	ProductID           int64           `gorm:"not null;index" json:"product_id"`
	ProductNameSnapshot string          `gorm:"type:varchar(255);not null" json:"product_name_snapshot"`
	Quantity            decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity"`
	Family              string          `gorm:"type:varchar(10);not null" json:"unit"`
	LineTotal           decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"line_total"`
	CreatedAt           time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}
