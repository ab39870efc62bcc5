package repository

import (
	"context"

	"storefront/internal/domain/model"
)

type CartRepository interface {
	// カートキーで取得し、無ければ作成
	GetOrCreateByKey(ctx context.Context, key string) (model.Cart, error)
	FindByKey(ctx context.Context, key string) (model.Cart, error)
	// トランザクション終了までカートを排他（同一商品の二重作成を防ぐ）
	LockForUpdate(ctx context.Context, cartID int64) error
	// 明細をまとめて削除（全部消えるか何も消えないか）
	Clear(ctx context.Context, cartID int64) error
}
