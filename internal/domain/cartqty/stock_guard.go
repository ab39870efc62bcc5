package cartqty

import "github.com/shopspring/decimal"

// GuardResult は在庫ガードの判定結果。
// Removed が true のとき Quantity は使わない（呼び出し側で明細を削除する）。
type GuardResult struct {
	Quantity decimal.Decimal
	Capped   bool
	Removed  bool
}

// Guard は current に delta を足した結果を在庫上限 ceiling と突き合わせる。
// 値はすべて同じファミリーの基準単位。
// 減らす方向は ceiling を見ないので、在庫が減った後は quantity > ceiling のまま残ることがある。
func Guard(current, delta, ceiling decimal.Decimal) (GuardResult, error) {
	next := current.Add(delta)

	// 0以下は削除扱い
	if !next.IsPositive() {
		return GuardResult{Quantity: decimal.Zero, Removed: true}, nil
	}

	// 減らす方向は在庫に関係なく通す
	if !delta.IsPositive() {
		return GuardResult{Quantity: next}, nil
	}

	// 上限に到達済み（在庫が減って上限を下回った場合も含む）
	if current.GreaterThanOrEqual(ceiling) {
		return GuardResult{}, ErrOutOfStock
	}

	if next.GreaterThan(ceiling) {
		return GuardResult{Quantity: ceiling, Capped: true}, nil
	}
	return GuardResult{Quantity: next}, nil
}
