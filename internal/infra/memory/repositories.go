package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ---------- products ----------

type productRepo struct{ s *session }

func (r *productRepo) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	var list []model.Product
	_ = r.s.read(func(st *state) error {
		needle := strings.ToLower(strings.TrimSpace(q.Q))
		for _, p := range st.products {
			if !p.IsActive || p.DeletedAt.Valid {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
				continue
			}
			list = append(list, p)
		}
		return nil
	})

	switch q.Sort {
	case "price_asc":
		sort.Slice(list, func(i, j int) bool {
			if c := list[i].Price.Cmp(list[j].Price); c != 0 {
				return c < 0
			}
			return list[i].ID < list[j].ID
		})
	case "price_desc":
		sort.Slice(list, func(i, j int) bool {
			if c := list[i].Price.Cmp(list[j].Price); c != 0 {
				return c > 0
			}
			return list[i].ID > list[j].ID
		})
	default:
		sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	}

	total := int64(len(list))
	offset := (q.Page - 1) * q.Limit
	if offset < 0 || offset >= len(list) {
		return []model.Product{}, total, nil
	}
	end := offset + q.Limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end], total, nil
}

func (r *productRepo) FindByID(ctx context.Context, id int64) (model.Product, error) {
	var p model.Product
	err := r.s.read(func(st *state) error {
		found, ok := st.products[id]
		if !ok || found.DeletedAt.Valid {
			return repo.ErrNotFound
		}
		p = found
		return nil
	})
	return p, err
}

func (r *productRepo) Create(ctx context.Context, p model.Product) (model.Product, error) {
	now := time.Now()
	p.ID = r.s.store.productSeq.Add(1)
	p.CreatedAt, p.UpdatedAt = now, now
	err := r.s.write(func(st *state) error {
		st.products[p.ID] = p
		return nil
	})
	if err != nil {
		return model.Product{}, err
	}
	return p, nil
}

func (r *productRepo) Update(ctx context.Context, p model.Product) error {
	unlock, err := r.s.lock(ctx, productKey(p.ID))
	if err != nil {
		return err
	}
	defer unlock()

	return r.s.write(func(st *state) error {
		cur, ok := st.products[p.ID]
		if !ok || cur.DeletedAt.Valid {
			return repo.ErrNotFound
		}
		p.CreatedAt = cur.CreatedAt
		p.UpdatedAt = time.Now()
		st.products[p.ID] = p
		return nil
	})
}

func (r *productRepo) SoftDelete(ctx context.Context, id int64) error {
	return r.s.write(func(st *state) error {
		cur, ok := st.products[id]
		if !ok || cur.DeletedAt.Valid {
			return repo.ErrNotFound
		}
		cur.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
		st.products[id] = cur
		return nil
	})
}

// ---------- inventory ----------

type inventoryRepo struct{ s *session }

func (r *inventoryRepo) SetStock(ctx context.Context, productID int64, newStock decimal.Decimal) error {
	return r.changeStock(ctx, productID, func(cur decimal.Decimal) (decimal.Decimal, bool) {
		return newStock, true
	})
}

func (r *inventoryRepo) DecreaseStockIfEnough(ctx context.Context, productID int64, qty decimal.Decimal) (bool, error) {
	enough := func(cur decimal.Decimal) (decimal.Decimal, bool) {
		if cur.LessThan(qty) {
			return cur, false
		}
		return cur.Sub(qty), true
	}

	unlock, err := r.s.lock(ctx, productKey(productID))
	if err != nil {
		return false, err
	}
	defer unlock()

	// 商品ロック中なのでコミット済みの値で判定してよい
	p, err := (&productRepo{s: r.s}).FindByID(ctx, productID)
	if err != nil {
		return false, nil
	}
	if _, ok := enough(p.StockQty); !ok {
		return false, nil
	}
	return true, r.s.write(stockOp(productID, enough))
}

func (r *inventoryRepo) IncreaseStock(ctx context.Context, productID int64, qty decimal.Decimal) error {
	return r.changeStock(ctx, productID, func(cur decimal.Decimal) (decimal.Decimal, bool) {
		return cur.Add(qty), true
	})
}

func (r *inventoryRepo) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	adj.ID = r.s.store.adjustSeq.Add(1)
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now()
	}
	return r.s.write(func(st *state) error {
		st.adjustments = append(st.adjustments, adj)
		return nil
	})
}

func (r *inventoryRepo) changeStock(ctx context.Context, productID int64, fn func(decimal.Decimal) (decimal.Decimal, bool)) error {
	unlock, err := r.s.lock(ctx, productKey(productID))
	if err != nil {
		return err
	}
	defer unlock()
	return r.s.write(stockOp(productID, fn))
}

var errStockChanged = errors.New("stock changed")

func stockOp(productID int64, fn func(decimal.Decimal) (decimal.Decimal, bool)) op {
	return func(st *state) error {
		p, ok := st.products[productID]
		if !ok || p.DeletedAt.Valid {
			return repo.ErrNotFound
		}
		next, ok := fn(p.StockQty)
		if !ok {
			return errStockChanged
		}
		p.StockQty = next
		p.UpdatedAt = time.Now()
		st.products[productID] = p
		return nil
	}
}

// ---------- carts / cart items ----------

type cartRepo struct{ s *session }

func (r *cartRepo) GetOrCreateByKey(ctx context.Context, key string) (model.Cart, error) {
	if c, err := r.FindByKey(ctx, key); err == nil {
		return c, nil
	}

	var cart model.Cart
	candidate := model.Cart{ID: r.s.store.cartSeq.Add(1), Key: key, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	create := func(st *state) error {
		// 同時作成は先に入った方を使う
		if id, ok := st.cartKeys[key]; ok {
			cart = st.carts[id]
			return nil
		}
		st.carts[candidate.ID] = candidate
		st.cartKeys[key] = candidate.ID
		cart = candidate
		return nil
	}
	if r.s.tx {
		// トランザクション内では作成予定の値を返す
		cart = candidate
		return cart, r.s.write(create)
	}
	if err := r.s.store.apply([]op{create}); err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

func (r *cartRepo) FindByKey(ctx context.Context, key string) (model.Cart, error) {
	var cart model.Cart
	err := r.s.read(func(st *state) error {
		id, ok := st.cartKeys[key]
		if !ok {
			return repo.ErrNotFound
		}
		cart = st.carts[id]
		return nil
	})
	return cart, err
}

func (r *cartRepo) LockForUpdate(ctx context.Context, cartID int64) error {
	unlock, err := r.s.lock(ctx, cartKey(cartID))
	if err != nil {
		return err
	}
	defer unlock()

	return r.s.read(func(st *state) error {
		if _, ok := st.carts[cartID]; !ok {
			return repo.ErrNotFound
		}
		return nil
	})
}

func (r *cartRepo) Clear(ctx context.Context, cartID int64) error {
	return r.s.write(func(st *state) error {
		for id, it := range st.items {
			if it.CartID == cartID {
				delete(st.items, id)
			}
		}
		return nil
	})
}

func (r *cartRepo) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	items := []model.CartItem{}
	_ = r.s.read(func(st *state) error {
		for _, it := range st.items {
			if it.CartID == cartID {
				items = append(items, it)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *cartRepo) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	var item model.CartItem
	err := r.s.read(func(st *state) error {
		found, ok := st.items[cartItemID]
		if !ok {
			return repo.ErrNotFound
		}
		item = found
		return nil
	})
	return item, err
}

// ロックを取ってから読むので、前の保持者の更新後の値が見える
func (r *cartRepo) FindByIDForUpdate(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	unlock, err := r.s.lock(ctx, itemKey(cartItemID))
	if err != nil {
		return model.CartItem{}, err
	}
	defer unlock()
	return r.FindByID(ctx, cartItemID)
}

func (r *cartRepo) FindByCartAndProduct(ctx context.Context, cartID int64, productID int64) (model.CartItem, error) {
	var item model.CartItem
	err := r.s.read(func(st *state) error {
		for _, it := range st.items {
			if it.CartID == cartID && it.ProductID == productID {
				item = it
				return nil
			}
		}
		return repo.ErrNotFound
	})
	return item, err
}

var errDuplicateItem = errors.New("duplicate cart item")

func (r *cartRepo) Create(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	if !item.Quantity.IsPositive() {
		return model.CartItem{}, errors.New("invalid quantity")
	}
	now := time.Now()
	item.ID = r.s.store.itemSeq.Add(1)
	item.CreatedAt, item.UpdatedAt = now, now

	err := r.s.write(func(st *state) error {
		if _, ok := st.carts[item.CartID]; !ok {
			return repo.ErrNotFound
		}
		for _, it := range st.items {
			if it.CartID == item.CartID && it.ProductID == item.ProductID {
				return errDuplicateItem
			}
		}
		st.items[item.ID] = item
		return nil
	})
	if err != nil {
		return model.CartItem{}, err
	}
	return item, nil
}

func (r *cartRepo) UpdateQuantity(ctx context.Context, cartItemID int64, qty decimal.Decimal) error {
	if _, err := r.FindByID(ctx, cartItemID); err != nil {
		return err
	}
	return r.s.write(func(st *state) error {
		it, ok := st.items[cartItemID]
		if !ok {
			return repo.ErrNotFound
		}
		it.Quantity = qty
		it.UpdatedAt = time.Now()
		st.items[cartItemID] = it
		return nil
	})
}

func (r *cartRepo) DeleteByID(ctx context.Context, cartItemID int64) error {
	if _, err := r.FindByID(ctx, cartItemID); err != nil {
		return err
	}
	return r.s.write(func(st *state) error {
		if _, ok := st.items[cartItemID]; !ok {
			return repo.ErrNotFound
		}
		delete(st.items, cartItemID)
		return nil
	})
}

// ---------- orders ----------

type orderRepo struct{ s *session }

func (r *orderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.s.read(func(st *state) error {
		found, ok := st.orders[orderID]
		if !ok {
			return repo.ErrNotFound
		}
		o = found
		return nil
	})
	return o, err
}

func (r *orderRepo) Create(ctx context.Context, order model.Order) (int64, error) {
	now := time.Now()
	order.ID = r.s.store.orderSeq.Add(1)
	order.CreatedAt, order.UpdatedAt = now, now
	err := r.s.write(func(st *state) error {
		for _, o := range st.orders {
			if o.CartKey == order.CartKey && o.IdempotencyKey == order.IdempotencyKey {
				return errors.New("duplicate idempotency key")
			}
		}
		st.orders[order.ID] = order
		return nil
	})
	if err != nil {
		return 0, err
	}
	return order.ID, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	return r.s.write(func(st *state) error {
		o, ok := st.orders[orderID]
		if !ok {
			return repo.ErrNotFound
		}
		o.Status = status
		o.UpdatedAt = time.Now()
		st.orders[orderID] = o
		return nil
	})
}

func (r *orderRepo) FindByIdempotencyKey(ctx context.Context, cartKey string, key string) (model.Order, bool, error) {
	var (
		o     model.Order
		found bool
	)
	_ = r.s.read(func(st *state) error {
		for _, cand := range st.orders {
			if cand.CartKey == cartKey && cand.IdempotencyKey == key {
				o, found = cand, true
				return nil
			}
		}
		return nil
	})
	return o, found, nil
}

type orderItemRepo struct{ s *session }

func (r *orderItemRepo) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]model.OrderItem, len(items))
	now := time.Now()
	for i, it := range items {
		it.ID = r.s.store.orderItemSeq.Add(1)
		it.OrderID = orderID
		it.CreatedAt = now
		rows[i] = it
	}
	return r.s.write(func(st *state) error {
		st.orderItems[orderID] = append(st.orderItems[orderID], rows...)
		return nil
	})
}

func (r *orderItemRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	var items []model.OrderItem
	_ = r.s.read(func(st *state) error {
		items = append([]model.OrderItem{}, st.orderItems[orderID]...)
		return nil
	})
	return items, nil
}
