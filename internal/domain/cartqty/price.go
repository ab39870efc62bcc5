package cartqty

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidSnapshot = errors.New("invalid product snapshot")

// Snapshot は明細作成時点の商品情報。作成後は変更しない。
// Price は WeightValue WeightUnit あたりの価格（例: 500g で 160）。
type Snapshot struct {
	Price       decimal.Decimal
	WeightValue decimal.Decimal
	WeightUnit  Unit
	BaseUnit    BaseUnit
	StockQty    decimal.Decimal
}

// Family は明細の単位ファミリー（作成時に固定）。
func (s Snapshot) Family() Family {
	return s.WeightUnit.Family()
}

// Validate は価格基準と刻みが同じファミリーかを確認する。
func (s Snapshot) Validate() error {
	if !s.WeightValue.IsPositive() {
		return fmt.Errorf("%w: weight value must be > 0", ErrInvalidSnapshot)
	}
	if s.Price.IsNegative() {
		return fmt.Errorf("%w: price must be >= 0", ErrInvalidSnapshot)
	}
	if s.BaseUnit.Family() != s.WeightUnit.Family() {
		return fmt.Errorf("%w: base unit %s vs weight unit %s", ErrUnitFamilyMismatch, s.BaseUnit, s.WeightUnit)
	}
	return nil
}

// LineTotal は quantity（基準単位）の金額。丸めは表示側で行う。
func LineTotal(quantity decimal.Decimal, s Snapshot) (decimal.Decimal, error) {
	if err := s.Validate(); err != nil {
		return decimal.Zero, err
	}
	_, ref := Normalize(s.WeightValue, s.WeightUnit)

	// quantity/ref*price と同じ。先に掛けて割り算の誤差を1回にする
	return quantity.Mul(s.Price).Div(ref), nil
}
