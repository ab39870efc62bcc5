package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CartKey        string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_cart_key_idem" json:"-"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalPrice     decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total_price"`
	IdempotencyKey string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_cart_key_idem" json:"-"`
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
