package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront/internal/domain/cartqty"
	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartUsecase はカート1つ分（cartKey）の明細を扱う。
// 数量の変更は必ずトランザクション内で明細行をロックしてから行う。
type CartUsecase struct {
	tx        repo.TransactionManager
	carts     repo.CartRepository
	cartItems repo.CartItemRepository
	products  repo.ProductRepository
	log       *zap.Logger
}

func NewCartUsecase(
	tx repo.TransactionManager,
	carts repo.CartRepository,
	cartItems repo.CartItemRepository,
	products repo.ProductRepository,
	log *zap.Logger,
) *CartUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartUsecase{
		tx:        tx,
		carts:     carts,
		cartItems: cartItems,
		products:  products,
		log:       log,
	}
}

// CartItemView は明細1件の表示用。Quantity は基準単位（g / piece）
type CartItemView struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	Name            string          `json:"name"`
	Unit            string          `json:"unit"`
	Quantity        decimal.Decimal `json:"quantity"`
	DisplayQuantity decimal.Decimal `json:"display_quantity"`
	DisplayUnit     string          `json:"display_unit"`
	BaseUnit        string          `json:"base_unit"`
	Price           decimal.Decimal `json:"price"`
	WeightValue     decimal.Decimal `json:"weight_value"`
	WeightUnit      string          `json:"weight_unit"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type CartTotals struct {
	ItemCount  int             `json:"item_count"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type CartView struct {
	Items []CartItemView `json:"items"`
	CartTotals
}

// MutationResult は数量変更1回の結果。Removed なら Item は nil
type MutationResult struct {
	ItemID   int64           `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Capped   bool            `json:"capped"`
	Removed  bool            `json:"removed"`
	Item     *CartItemView   `json:"item,omitempty"`
	Cart     CartTotals      `json:"cart"`
}

// 任意量の指定（value unit）
type AmountInput struct {
	Value decimal.Decimal
	Unit  string
}

// Add は商品をカートに入れる。既にあれば刻み1つ分増やす。
func (u *CartUsecase) Add(ctx context.Context, cartKey string, productID int64) (MutationResult, error) {
	if err := validateCartKey(cartKey); err != nil {
		return MutationResult{}, err
	}
	if productID <= 0 {
		return MutationResult{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}

	cart, err := u.carts.GetOrCreateByKey(ctx, cartKey)
	if err != nil {
		return MutationResult{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	var res MutationResult
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じ商品の明細が二重にできないようカートを押さえる
		if err := r.Carts().LockForUpdate(ctx, cart.ID); err != nil {
			return dbError(err)
		}

		p, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "product not found")
		}
		if err != nil {
			return dbError(err)
		}
		if !p.IsActive {
			return cartqty.ErrProductUnavailable
		}

		existing, err := r.CartItems().FindByCartAndProduct(ctx, cart.ID, productID)
		if err == nil {
			// 既存明細は increment と同じ扱い（スナップショットはそのまま）
			res, err = u.applyLocked(ctx, r, cart, existing.ID, func(it cartqty.Item, ceiling ceilingFunc) (cartqty.Mutation, error) {
				c, err := ceiling()
				if err != nil {
					return cartqty.Mutation{}, err
				}
				return it.Increment(c)
			})
			return err
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return dbError(err)
		}

		snap, err := p.Snapshot()
		if err != nil {
			return err
		}
		es, err := snap.Engine()
		if err != nil {
			return err
		}
		ceiling, err := p.StockCeiling(es.Family())
		if err != nil {
			return err
		}

		it, m, err := cartqty.NewItem(es, ceiling)
		if err != nil {
			return err
		}

		created, err := r.CartItems().Create(ctx, model.CartItem{
			CartID:    cart.ID,
			ProductID: productID,
			Quantity:  it.Quantity,
			Family:    string(es.Family()),
			Snapshot:  snap,
		})
		if err != nil {
			return dbError(err)
		}
		res = MutationResult{ItemID: created.ID, Quantity: m.Quantity, Capped: m.Capped}
		return nil
	})
	if err != nil {
		err = txError(err)
		u.logRejected("add", cartKey, productID, err)
		return MutationResult{}, err
	}

	if res.Capped {
		u.log.Info("cart quantity capped", zap.String("cart", cartKey), zap.Int64("item_id", res.ItemID), zap.String("quantity", res.Quantity.String()))
	}
	return u.finish(ctx, cart, res)
}

// Increment は刻み1つ分増やす（現在庫で頭打ち）
func (u *CartUsecase) Increment(ctx context.Context, cartKey string, itemID int64) (MutationResult, error) {
	return u.mutate(ctx, "increment", cartKey, itemID, func(it cartqty.Item, ceiling ceilingFunc) (cartqty.Mutation, error) {
		c, err := ceiling()
		if err != nil {
			return cartqty.Mutation{}, err
		}
		return it.Increment(c)
	})
}

// Decrement は刻み1つ分減らす。0以下なら明細削除
func (u *CartUsecase) Decrement(ctx context.Context, cartKey string, itemID int64) (MutationResult, error) {
	return u.mutate(ctx, "decrement", cartKey, itemID, func(it cartqty.Item, _ ceilingFunc) (cartqty.Mutation, error) {
		return it.Decrement(), nil
	})
}

func (u *CartUsecase) AddAmount(ctx context.Context, cartKey string, itemID int64, in AmountInput) (MutationResult, error) {
	unit, err := cartqty.ParseUnit(in.Unit)
	if err != nil {
		return MutationResult{}, err
	}
	return u.mutate(ctx, "add_amount", cartKey, itemID, func(it cartqty.Item, ceiling ceilingFunc) (cartqty.Mutation, error) {
		c, err := ceiling()
		if err != nil {
			return cartqty.Mutation{}, err
		}
		return it.AddAmount(in.Value, unit, c)
	})
}

func (u *CartUsecase) RemoveAmount(ctx context.Context, cartKey string, itemID int64, in AmountInput) (MutationResult, error) {
	unit, err := cartqty.ParseUnit(in.Unit)
	if err != nil {
		return MutationResult{}, err
	}
	return u.mutate(ctx, "remove_amount", cartKey, itemID, func(it cartqty.Item, _ ceilingFunc) (cartqty.Mutation, error) {
		return it.RemoveAmount(in.Value, unit)
	})
}

// Remove は明細を無条件に削除（在庫は見ない）
func (u *CartUsecase) Remove(ctx context.Context, cartKey string, itemID int64) (CartTotals, error) {
	cart, err := u.ownCart(ctx, cartKey, itemID)
	if err != nil {
		return CartTotals{}, err
	}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		item, err := r.CartItems().FindByIDForUpdate(ctx, itemID)
		if errors.Is(err, repo.ErrNotFound) {
			return cartqty.ErrItemNotFound
		}
		if err != nil {
			return dbError(err)
		}
		if item.CartID != cart.ID {
			return cartqty.ErrItemNotFound
		}
		return deleteItem(ctx, r, itemID)
	})
	if err != nil {
		return CartTotals{}, txError(err)
	}
	return u.totals(ctx, cart.ID)
}

// Clear はカートの明細を全削除。何度呼んでもエラーにならない
func (u *CartUsecase) Clear(ctx context.Context, cartKey string) error {
	if err := validateCartKey(cartKey); err != nil {
		return err
	}

	cart, err := u.carts.FindByKey(ctx, cartKey)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Carts().LockForUpdate(ctx, cart.ID); err != nil {
			return dbError(err)
		}
		if err := r.Carts().Clear(ctx, cart.ID); err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return txError(err)
	}

	u.log.Info("cart cleared", zap.String("cart", cartKey))
	return nil
}

// GetTotals は明細数と合計金額（スナップショット価格）を返す
func (u *CartUsecase) GetTotals(ctx context.Context, cartKey string) (CartTotals, error) {
	if err := validateCartKey(cartKey); err != nil {
		return CartTotals{}, err
	}
	cart, err := u.carts.FindByKey(ctx, cartKey)
	if errors.Is(err, repo.ErrNotFound) {
		return CartTotals{TotalPrice: decimal.Zero}, nil
	}
	if err != nil {
		return CartTotals{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return u.totals(ctx, cart.ID)
}

// GetCart は明細一覧と合計（無ければ空のカートを作る）
func (u *CartUsecase) GetCart(ctx context.Context, cartKey string) (CartView, error) {
	if err := validateCartKey(cartKey); err != nil {
		return CartView{}, err
	}
	cart, err := u.carts.GetOrCreateByKey(ctx, cartKey)
	if err != nil {
		return CartView{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	items, err := u.cartItems.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CartView{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	out := CartView{Items: make([]CartItemView, 0, len(items))}
	out.TotalPrice = decimal.Zero
	for _, it := range items {
		v, err := u.view(ctx, it)
		if err != nil {
			return CartView{}, err
		}
		out.Items = append(out.Items, v)
		out.TotalPrice = out.TotalPrice.Add(v.LineTotal)
	}
	out.ItemCount = len(out.Items)
	return out, nil
}

// ceilingFunc は現在庫（明細ファミリーの基準単位）を読む。減らす操作では呼ばない
type ceilingFunc func() (decimal.Decimal, error)

type transition func(it cartqty.Item, ceiling ceilingFunc) (cartqty.Mutation, error)

func (u *CartUsecase) mutate(ctx context.Context, intent string, cartKey string, itemID int64, fn transition) (MutationResult, error) {
	cart, err := u.ownCart(ctx, cartKey, itemID)
	if err != nil {
		return MutationResult{}, err
	}

	var res MutationResult
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		res, err = u.applyLocked(ctx, r, cart, itemID, fn)
		return err
	})
	if err != nil {
		err = txError(err)
		u.logRejected(intent, cartKey, itemID, err)
		return MutationResult{}, err
	}

	if res.Capped {
		u.log.Info("cart quantity capped", zap.String("cart", cartKey), zap.String("intent", intent), zap.Int64("item_id", itemID), zap.String("quantity", res.Quantity.String()))
	}
	return u.finish(ctx, cart, res)
}

// applyLocked は 明細ロック → 現在庫の再取得 → 計算 → 書き込み を1トランザクションで行う
func (u *CartUsecase) applyLocked(ctx context.Context, r repo.TxRepos, cart model.Cart, itemID int64, fn transition) (MutationResult, error) {
	item, err := r.CartItems().FindByIDForUpdate(ctx, itemID)
	if errors.Is(err, repo.ErrNotFound) {
		return MutationResult{}, cartqty.ErrItemNotFound
	}
	if err != nil {
		return MutationResult{}, dbError(err)
	}
	//他のカートの明細は存在しない扱い
	if item.CartID != cart.ID {
		return MutationResult{}, cartqty.ErrItemNotFound
	}

	it, err := item.Engine()
	if err != nil {
		return MutationResult{}, err
	}

	ceiling := func() (decimal.Decimal, error) {
		p, err := r.Products().FindByID(ctx, item.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return decimal.Zero, nil
		}
		if err != nil {
			return decimal.Zero, dbError(err)
		}
		if !p.IsActive {
			return decimal.Zero, nil
		}
		return p.StockCeiling(it.Family())
	}

	m, err := fn(it, ceiling)
	if err != nil {
		return MutationResult{}, err
	}

	if m.Removed {
		if err := deleteItem(ctx, r, itemID); err != nil {
			return MutationResult{}, err
		}
		return MutationResult{ItemID: itemID, Quantity: decimal.Zero, Removed: true}, nil
	}

	if err := r.CartItems().UpdateQuantity(ctx, itemID, m.Quantity); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return MutationResult{}, cartqty.ErrItemNotFound
		}
		return MutationResult{}, dbError(err)
	}
	return MutationResult{ItemID: itemID, Quantity: m.Quantity, Capped: m.Capped}, nil
}

// ownCart は cartKey のカートを返す。カートが無ければ明細も無い
func (u *CartUsecase) ownCart(ctx context.Context, cartKey string, itemID int64) (model.Cart, error) {
	if err := validateCartKey(cartKey); err != nil {
		return model.Cart{}, err
	}
	if itemID <= 0 {
		return model.Cart{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	cart, err := u.carts.FindByKey(ctx, cartKey)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, cartqty.ErrItemNotFound
	}
	if err != nil {
		return model.Cart{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return cart, nil
}

// finish はコミット後の値で明細と合計を組み立てる
func (u *CartUsecase) finish(ctx context.Context, cart model.Cart, res MutationResult) (MutationResult, error) {
	if !res.Removed {
		item, err := u.cartItems.FindByID(ctx, res.ItemID)
		if err == nil {
			v, err := u.view(ctx, item)
			if err != nil {
				return MutationResult{}, err
			}
			res.Item = &v
		}
	}

	totals, err := u.totals(ctx, cart.ID)
	if err != nil {
		return MutationResult{}, err
	}
	res.Cart = totals
	return res, nil
}

func (u *CartUsecase) totals(ctx context.Context, cartID int64) (CartTotals, error) {
	items, err := u.cartItems.ListByCartID(ctx, cartID)
	if err != nil {
		return CartTotals{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	total := decimal.Zero
	for _, item := range items {
		it, err := item.Engine()
		if err != nil {
			return CartTotals{}, err
		}
		line, err := it.LineTotal()
		if err != nil {
			return CartTotals{}, err
		}
		total = total.Add(line)
	}
	return CartTotals{ItemCount: len(items), TotalPrice: total}, nil
}

func (u *CartUsecase) view(ctx context.Context, item model.CartItem) (CartItemView, error) {
	it, err := item.Engine()
	if err != nil {
		return CartItemView{}, err
	}
	line, err := it.LineTotal()
	if err != nil {
		return CartItemView{}, err
	}

	//商品名は表示用なので、削除済みでも明細は返す
	var name string
	if p, err := u.products.FindByID(ctx, item.ProductID); err == nil {
		name = p.Name
	}

	dq, du := cartqty.PreferredDisplay(item.Quantity, it.Family())
	return CartItemView{
		ID:              item.ID,
		ProductID:       item.ProductID,
		Name:            name,
		Unit:            item.Family,
		Quantity:        item.Quantity,
		DisplayQuantity: dq,
		DisplayUnit:     string(du),
		BaseUnit:        item.Snapshot.BaseUnit,
		Price:           item.Snapshot.Price,
		WeightValue:     item.Snapshot.WeightValue,
		WeightUnit:      item.Snapshot.WeightUnit,
		LineTotal:       line,
	}, nil
}

func (u *CartUsecase) logRejected(intent string, cartKey string, id int64, err error) {
	switch {
	case errors.Is(err, cartqty.ErrOutOfStock), errors.Is(err, cartqty.ErrProductUnavailable):
		u.log.Info("cart mutation rejected by stock", zap.String("intent", intent), zap.String("cart", cartKey), zap.Int64("id", id), zap.Error(err))
	default:
		if he, ok := AsHTTPError(err); ok && he.Status >= http.StatusInternalServerError {
			u.log.Error("cart mutation failed", zap.String("intent", intent), zap.String("cart", cartKey), zap.Int64("id", id), zap.Error(err))
		}
	}
}

func deleteItem(ctx context.Context, r repo.TxRepos, itemID int64) error {
	err := r.CartItems().DeleteByID(ctx, itemID)
	if errors.Is(err, repo.ErrNotFound) {
		return cartqty.ErrItemNotFound
	}
	if err != nil {
		return dbError(err)
	}
	return nil
}

func validateCartKey(cartKey string) error {
	if strings.TrimSpace(cartKey) == "" || len(cartKey) > 255 {
		return NewHTTPError(http.StatusBadRequest, "invalid cart")
	}
	return nil
}

// txError はコミット時に明細が消えていた場合を ItemNotFound にそろえる
func txError(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return cartqty.ErrItemNotFound
	}
	if isDomainError(err) {
		return err
	}
	return dbError(err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		cartqty.ErrProductUnavailable,
		cartqty.ErrOutOfStock,
		cartqty.ErrUnitFamilyMismatch,
		cartqty.ErrItemNotFound,
		cartqty.ErrInvalidAmount,
		cartqty.ErrUnknownUnit,
		cartqty.ErrInvalidSnapshot,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// dbError はドメインのエラーはそのまま、それ以外は500にする
func dbError(err error) error {
	if _, ok := AsHTTPError(err); ok {
		return err
	}
	return NewHTTPError(http.StatusInternalServerError, "db error")
}
