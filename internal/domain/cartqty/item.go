package cartqty

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Item は明細1件の数量状態。Quantity は常にファミリーの基準単位で持つ。
type Item struct {
	Quantity decimal.Decimal
	Snapshot Snapshot
}

// Mutation は遷移の結果。Removed なら明細を削除する（0は保存しない）。
type Mutation struct {
	Quantity decimal.Decimal
	Capped   bool
	Removed  bool
}

func (it Item) Family() Family {
	return it.Snapshot.Family()
}

// Ceiling は商品の現在庫を family の基準単位に揃える。
// 在庫の単位が別ファミリーなら ErrUnitFamilyMismatch。
func Ceiling(stockQty decimal.Decimal, stockUnit Unit, family Family) (decimal.Decimal, error) {
	c, err := NormalizeIn(stockQty, stockUnit, family)
	if err != nil {
		return decimal.Zero, err
	}
	if c.IsNegative() {
		return decimal.Zero, nil
	}
	// 個数は端数を切り捨て、重量は保存桁まで
	return c.Truncate(family.scale()), nil
}

// NewItem は Absent -> Present。初期数量は刻み1つ分（在庫が足りなければ在庫まで）。
func NewItem(s Snapshot, ceiling decimal.Decimal) (Item, Mutation, error) {
	if err := s.Validate(); err != nil {
		return Item{}, Mutation{}, err
	}
	if !ceiling.IsPositive() {
		return Item{}, Mutation{}, ErrProductUnavailable
	}

	r, err := Guard(decimal.Zero, s.BaseUnit.Step(), ceiling)
	if err != nil {
		return Item{}, Mutation{}, err
	}
	m := toMutation(r)
	return Item{Quantity: m.Quantity, Snapshot: s}, m, nil
}

// Increment は刻み1つ分増やす。ceiling は再取得した現在庫。
func (it Item) Increment(ceiling decimal.Decimal) (Mutation, error) {
	r, err := Guard(it.Quantity, it.Snapshot.BaseUnit.Step(), ceiling)
	if err != nil {
		return Mutation{}, err
	}
	return toMutation(r), nil
}

// Decrement は刻み1つ分減らす。在庫は見ない。
func (it Item) Decrement() Mutation {
	r, _ := Guard(it.Quantity, it.Snapshot.BaseUnit.Step().Neg(), decimal.Zero)
	return toMutation(r)
}

// AddAmount は任意の量（value unit）を足す。
func (it Item) AddAmount(value decimal.Decimal, unit Unit, ceiling decimal.Decimal) (Mutation, error) {
	delta, err := it.amount(value, unit)
	if err != nil {
		return Mutation{}, err
	}
	r, err := Guard(it.Quantity, delta, ceiling)
	if err != nil {
		return Mutation{}, err
	}
	return toMutation(r), nil
}

// RemoveAmount は任意の量を減らす。0以下になれば削除。
func (it Item) RemoveAmount(value decimal.Decimal, unit Unit) (Mutation, error) {
	delta, err := it.amount(value, unit)
	if err != nil {
		return Mutation{}, err
	}
	r, _ := Guard(it.Quantity, delta.Neg(), decimal.Zero)
	return toMutation(r), nil
}

func (it Item) LineTotal() (decimal.Decimal, error) {
	return LineTotal(it.Quantity, it.Snapshot)
}

func (it Item) amount(value decimal.Decimal, unit Unit) (decimal.Decimal, error) {
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, value.String())
	}
	base, err := NormalizeIn(value, unit, it.Family())
	if err != nil {
		return decimal.Zero, err
	}
	// 個数は整数、重量は 0.001g 単位まで（保存できない桁は受け付けない）
	if !base.Equal(base.Truncate(it.Family().scale())) {
		return decimal.Zero, fmt.Errorf("%w: %s %s", ErrInvalidAmount, value.String(), unit)
	}
	return base, nil
}

func toMutation(r GuardResult) Mutation {
	return Mutation{Quantity: r.Quantity, Capped: r.Capped, Removed: r.Removed}
}
