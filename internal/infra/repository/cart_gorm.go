package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// carts と cart_items をまとめて扱う（CartRepository / CartItemRepository の両方を満たす）
type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// キーでカートを取得し、無ければ作成
func (r *CartGormRepository) GetOrCreateByKey(ctx context.Context, key string) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("cart_key = ?", key).First(&cart).Error
		if findErr == nil {
			return nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}

		// 無ければ作る（同時作成はユニーク制約で1件に収束）
		newCart := model.Cart{Key: key}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&newCart).Error; err != nil {
			return err
		}
		return tx.Where("cart_key = ?", key).First(&cart).Error
	})

	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

func (r *CartGormRepository) FindByKey(ctx context.Context, key string) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).Where("cart_key = ?", key).First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// SELECT ... FOR UPDATE でカート行を押さえる
func (r *CartGormRepository) LockForUpdate(ctx context.Context, cartID int64) error {
	var cart model.Cart

	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cartID).
		First(&cart).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.ErrNotFound
	}
	return err
}

// 指定カートの明細を全削除（1文なので部分削除にならない）
func (r *CartGormRepository) Clear(ctx context.Context, cartID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("cart_id = ?", cartID).Delete(&model.CartItem{}).Error
	})
}

// カート明細を一覧取得
func (r *CartGormRepository) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	var items []model.CartItem

	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return []model.CartItem{}, err
	}

	return items, nil
}

func (r *CartGormRepository) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	return r.findItem(r.db.WithContext(ctx).Where("id = ?", cartItemID))
}

// 明細行をロックして取得。同じ明細への更新はコミットまで待たされる
func (r *CartGormRepository) FindByIDForUpdate(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	return r.findItem(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cartItemID))
}

func (r *CartGormRepository) FindByCartAndProduct(ctx context.Context, cartID int64, productID int64) (model.CartItem, error) {
	return r.findItem(r.db.WithContext(ctx).Where("cart_id = ? AND product_id = ?", cartID, productID))
}

func (r *CartGormRepository) Create(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	if !item.Quantity.IsPositive() {
		return model.CartItem{}, errors.New("invalid quantity")
	}
	if err := r.db.WithContext(ctx).Create(&item).Error; err != nil {
		return model.CartItem{}, err
	}
	return item, nil
}

// 明細の数量を更新（スナップショット列は触らない）
func (r *CartGormRepository) UpdateQuantity(ctx context.Context, cartItemID int64, qty decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.CartItem{}).
		Where("id = ?", cartItemID).
		Update("quantity", qty)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *CartGormRepository) DeleteByID(ctx context.Context, cartItemID int64) error {
	res := r.db.WithContext(ctx).Delete(&model.CartItem{}, cartItemID)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *CartGormRepository) findItem(q *gorm.DB) (model.CartItem, error) {
	var item model.CartItem

	err := q.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.CartItem{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CartItem{}, err
	}
	return item, nil
}
