package cartqty

import "errors"

var (
	// 在庫0の商品を追加しようとした
	ErrProductUnavailable = errors.New("product unavailable")
	// 在庫上限に達していて増やせない
	ErrOutOfStock = errors.New("out of stock")
	// 明細と違うファミリーの単位が渡された
	ErrUnitFamilyMismatch = errors.New("unit family mismatch")
	// 明細が存在しない
	ErrItemNotFound = errors.New("cart item not found")
	// 数量が0以下
	ErrInvalidAmount = errors.New("invalid amount")
	ErrUnknownUnit   = errors.New("unknown unit")
)
