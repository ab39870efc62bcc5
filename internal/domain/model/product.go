package model

import (
	"time"

	"storefront/internal/domain/cartqty"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 商品
// Price は WeightValue WeightUnit あたりの価格（例: 500g で 160）。
type Product struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	//言語ごとの表示名（"en", "hi" など）
	DisplayNames map[string]string `gorm:"serializer:json;type:text" json:"display_names,omitempty"`

	Price       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"price"`
	WeightValue decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"weight_value"`
	WeightUnit  string          `gorm:"type:varchar(16);not null" json:"weight_unit"`

	//+/- の刻み（250g / 500g / 1kg / piece）
	BaseUnit string `gorm:"type:varchar(16);not null" json:"base_unit"`

	//在庫（StockUnit で表した量）
	StockQty  decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"stock_qty"`
	StockUnit string          `gorm:"type:varchar(16);not null" json:"stock_unit"`

	IsActive  bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 表示用。在庫が正なら買える
func (p Product) IsAvailable() bool {
	return p.IsActive && p.StockQty.IsPositive()
}

// 現時点の価格情報を明細用に写し取る。
func (p Product) Snapshot() (ProductSnapshot, error) {
	s := ProductSnapshot{
		Price:       p.Price,
		WeightValue: p.WeightValue,
		WeightUnit:  p.WeightUnit,
		BaseUnit:    p.BaseUnit,
		StockQty:    p.StockQty,
	}
	if _, err := s.Engine(); err != nil {
		return ProductSnapshot{}, err
	}
	return s, nil
}

// StockCeiling は現在庫を family の基準単位で返す。
func (p Product) StockCeiling(family cartqty.Family) (decimal.Decimal, error) {
	u, err := cartqty.ParseUnit(p.StockUnit)
	if err != nil {
		return decimal.Zero, err
	}
	return cartqty.Ceiling(p.StockQty, u, family)
}
