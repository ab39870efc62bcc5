package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// state はコミット済みデータ一式
type state struct {
	products    map[int64]model.Product
	carts       map[int64]model.Cart
	cartKeys    map[string]int64
	items       map[int64]model.CartItem
	adjustments []model.InventoryAdjustment
	orders      map[int64]model.Order
	orderItems  map[int64][]model.OrderItem
}

func newState() *state {
	return &state{
		products:   map[int64]model.Product{},
		carts:      map[int64]model.Cart{},
		cartKeys:   map[string]int64{},
		items:      map[int64]model.CartItem{},
		orders:     map[int64]model.Order{},
		orderItems: map[int64][]model.OrderItem{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartKeys {
		c.cartKeys[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	c.adjustments = append(c.adjustments, s.adjustments...)
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = append([]model.OrderItem(nil), v...)
	}
	return c
}

// op は state への書き込み1件。エラーならトランザクション全体を捨てる
type op func(st *state) error

// Store はDBなしで動かすためのリポジトリ実装（STORAGE_DRIVER=memory）。
// 書き込みはコミット時にまとめて反映し、行ロック相当はキー単位のロックで表す。
type Store struct {
	mu    sync.RWMutex
	st    *state
	locks *keyLocks

	productSeq   atomic.Int64
	cartSeq      atomic.Int64
	itemSeq      atomic.Int64
	adjustSeq    atomic.Int64
	orderSeq     atomic.Int64
	orderItemSeq atomic.Int64
}

func New() *Store {
	return &Store{st: newState(), locks: newKeyLocks()}
}

func (s *Store) Products() repo.ProductRepository     { return &productRepo{s: s.autocommit()} }
func (s *Store) Carts() repo.CartRepository           { return &cartRepo{s: s.autocommit()} }
func (s *Store) CartItems() repo.CartItemRepository   { return &cartRepo{s: s.autocommit()} }
func (s *Store) Inventory() repo.InventoryRepository  { return &inventoryRepo{s: s.autocommit()} }
func (s *Store) Orders() repo.OrderRepository         { return &orderRepo{s: s.autocommit()} }
func (s *Store) OrderItems() repo.OrderItemRepository { return &orderItemRepo{s: s.autocommit()} }

// Adjustments は在庫調整履歴を返す（テスト・確認用）
func (s *Store) Adjustments() []model.InventoryAdjustment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.InventoryAdjustment(nil), s.st.adjustments...)
}

// WithinTx は fn の書き込みを fn 成功時にだけまとめて反映する。
func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	sess := &session{store: s, tx: true, held: map[string]func(){}}
	defer sess.releaseAll()

	if err := fn(sess); err != nil {
		return err
	}
	return s.apply(sess.ops)
}

func (s *Store) apply(ops []op) error {
	if len(ops) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st.clone()
	for _, o := range ops {
		if err := o(next); err != nil {
			return fmt.Errorf("memory commit: %w", err)
		}
	}
	s.st = next
	return nil
}

func (s *Store) autocommit() *session {
	return &session{store: s, held: map[string]func(){}}
}

// session は1トランザクション（または自動コミット）分の作業単位
type session struct {
	store *Store
	tx    bool
	ops   []op
	held  map[string]func()
}

func (s *session) Orders() repo.OrderRepository         { return &orderRepo{s: s} }
func (s *session) OrderItems() repo.OrderItemRepository { return &orderItemRepo{s: s} }
func (s *session) Carts() repo.CartRepository           { return &cartRepo{s: s} }
func (s *session) CartItems() repo.CartItemRepository   { return &cartRepo{s: s} }
func (s *session) Inventory() repo.InventoryRepository  { return &inventoryRepo{s: s} }
func (s *session) Products() repo.ProductRepository     { return &productRepo{s: s} }

func (s *session) read(fn func(st *state) error) error {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return fn(s.store.st)
}

func (s *session) write(o op) error {
	if s.tx {
		s.ops = append(s.ops, o)
		return nil
	}
	return s.store.apply([]op{o})
}

// lock はトランザクション中なら終了まで保持、自動コミットなら呼び出し側で解放する
func (s *session) lock(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if _, ok := s.held[key]; ok {
		return noop, nil
	}
	unlock, err := s.store.locks.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.tx {
		s.held[key] = unlock
		return noop, nil
	}
	return unlock, nil
}

func (s *session) releaseAll() {
	for k, unlock := range s.held {
		unlock()
		delete(s.held, k)
	}
}

func itemKey(id int64) string    { return fmt.Sprintf("item:%d", id) }
func cartKey(id int64) string    { return fmt.Sprintf("cart:%d", id) }
func productKey(id int64) string { return fmt.Sprintf("product:%d", id) }
