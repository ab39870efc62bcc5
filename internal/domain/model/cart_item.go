package model

import (
	"time"

	"storefront/internal/domain/cartqty"

	"github.com/shopspring/decimal"
)

// カートの明細
// Quantity は基準単位（g / piece）で保存。Family は作成時に固定
type CartItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID    int64           `gorm:"not null;uniqueIndex:idx_cart_items_cart_product" json:"cart_id"`
	ProductID int64           `gorm:"not null;uniqueIndex:idx_cart_items_cart_product;index" json:"product_id"`
	Quantity  decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity"`
	Family    string          `gorm:"type:varchar(10);not null" json:"unit"`
	Snapshot  ProductSnapshot `gorm:"embedded;embeddedPrefix:snapshot_" json:"snapshot"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 追加時点の商品情報。作成後は更新しない
type ProductSnapshot struct {
	Price       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"price"`
	WeightValue decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"weight_value"`
	WeightUnit  string          `gorm:"type:varchar(16);not null" json:"weight_unit"`
	BaseUnit    string          `gorm:"type:varchar(16);not null" json:"base_unit"`
	StockQty    decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"stock_qty"`
}

func (s ProductSnapshot) Engine() (cartqty.Snapshot, error) {
	wu, err := cartqty.ParseUnit(s.WeightUnit)
	if err != nil {
		return cartqty.Snapshot{}, err
	}
	bu, err := cartqty.ParseBaseUnit(s.BaseUnit)
	if err != nil {
		return cartqty.Snapshot{}, err
	}
	out := cartqty.Snapshot{
		Price:       s.Price,
		WeightValue: s.WeightValue,
		WeightUnit:  wu,
		BaseUnit:    bu,
		StockQty:    s.StockQty,
	}
	if err := out.Validate(); err != nil {
		return cartqty.Snapshot{}, err
	}
	return out, nil
}

// エンジン側の Item に変換
func (i CartItem) Engine() (cartqty.Item, error) {
	s, err := i.Snapshot.Engine()
	if err != nil {
		return cartqty.Item{}, err
	}
	return cartqty.Item{Quantity: i.Quantity, Snapshot: s}, nil
}
