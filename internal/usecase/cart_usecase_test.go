package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storefront/internal/domain/cartqty"
	"storefront/internal/domain/model"
	"storefront/internal/infra/memory"
	repo "storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testCart = "session:test"

type cartEnv struct {
	store *memory.Store
	cart  *usecase.CartUsecase
	order *usecase.OrderUsecase
}

func newCartEnv(t *testing.T) cartEnv {
	t.Helper()
	s := memory.New()
	return cartEnv{
		store: s,
		cart:  usecase.NewCartUsecase(s, s.Carts(), s.CartItems(), s.Products(), nil),
		order: usecase.NewOrderUsecase(s, s.Carts(), nil),
	}
}

func (e cartEnv) seed(t *testing.T, p model.Product) model.Product {
	t.Helper()
	p.IsActive = true
	created, err := e.store.Products().Create(context.Background(), p)
	require.NoError(t, err)
	return created
}

// 500g 160円、刻み500g、在庫2000g
func beans() model.Product {
	return model.Product{
		Name:        "beans",
		Price:       d("160"),
		WeightValue: d("500"),
		WeightUnit:  "g",
		BaseUnit:    "500g",
		StockQty:    d("2000"),
		StockUnit:   "g",
	}
}

// 1個30円、在庫10
func lemons() model.Product {
	return model.Product{
		Name:        "lemon",
		Price:       d("30"),
		WeightValue: d("1"),
		WeightUnit:  "piece",
		BaseUnit:    "piece",
		StockQty:    d("10"),
		StockUnit:   "piece",
	}
}

func TestCart_StepIncrementsUpToStock(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)
	assertDec(t, "500", res.Quantity)
	require.NotNil(t, res.Item)
	assertDec(t, "160", res.Item.LineTotal)
	itemID := res.ItemID

	res, err = env.cart.Increment(ctx, testCart, itemID)
	require.NoError(t, err)
	assertDec(t, "1000", res.Quantity)
	assertDec(t, "320", res.Item.LineTotal)
	assert.Equal(t, "kg", res.Item.DisplayUnit)
	assertDec(t, "1", res.Item.DisplayQuantity)

	for _, want := range []string{"1500", "2000"} {
		res, err = env.cart.Increment(ctx, testCart, itemID)
		require.NoError(t, err)
		assertDec(t, want, res.Quantity)
		assert.False(t, res.Capped)
	}
	assertDec(t, "640", res.Cart.TotalPrice)

	// 在庫ちょうどに達した後はこれ以上増えない
	_, err = env.cart.Increment(ctx, testCart, itemID)
	assert.ErrorIs(t, err, cartqty.ErrOutOfStock)

	view, err := env.cart.GetCart(ctx, testCart)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assertDec(t, "2000", view.Items[0].Quantity)
	assertDec(t, "640", view.TotalPrice)
}

func TestCart_IncrementCapsAtStock(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := beans()
	p.StockQty = d("1.2")
	p.StockUnit = "kg"
	seeded := env.seed(t, p)

	res, err := env.cart.Add(ctx, testCart, seeded.ID)
	require.NoError(t, err)
	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	require.NoError(t, err)

	res, err = env.cart.Increment(ctx, testCart, res.ItemID)
	require.NoError(t, err)
	assert.True(t, res.Capped)
	assertDec(t, "1200", res.Quantity)
	assertDec(t, "384", res.Item.LineTotal)
}

func TestCart_AddAmountCaps(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)
	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	require.NoError(t, err)

	res, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("1500"), Unit: "g"})
	require.NoError(t, err)
	assert.True(t, res.Capped)
	assertDec(t, "2000", res.Quantity)
}

func TestCart_AddAmountInKilograms(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)

	res, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("0.25"), Unit: "kg"})
	require.NoError(t, err)
	assert.False(t, res.Capped)
	assertDec(t, "750", res.Quantity)
	assertDec(t, "240", res.Item.LineTotal)
}

func TestCart_AmountErrors(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, lemons())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)

	_, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("100"), Unit: "g"})
	assert.ErrorIs(t, err, cartqty.ErrUnitFamilyMismatch)

	_, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("1"), Unit: "box"})
	assert.ErrorIs(t, err, cartqty.ErrUnknownUnit)

	_, err = env.cart.RemoveAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("0"), Unit: "piece"})
	assert.ErrorIs(t, err, cartqty.ErrInvalidAmount)

	// 失敗した操作では数量は変わらない
	view, err := env.cart.GetCart(ctx, testCart)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assertDec(t, "1", view.Items[0].Quantity)
}

func TestCart_PieceDecrementRemoves(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, lemons())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)
	assertDec(t, "1", res.Quantity)

	res, err = env.cart.Decrement(ctx, testCart, res.ItemID)
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Nil(t, res.Item)
	assert.Equal(t, 0, res.Cart.ItemCount)

	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	assert.ErrorIs(t, err, cartqty.ErrItemNotFound)
}

func TestCart_RemoveAmountBelowZeroRemoves(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, lemons())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)
	_, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("2"), Unit: "piece"})
	require.NoError(t, err)

	res, err = env.cart.RemoveAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("5"), Unit: "piece"})
	require.NoError(t, err)
	assert.True(t, res.Removed)

	totals, err := env.cart.GetTotals(ctx, testCart)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.ItemCount)
}

func TestCart_AddZeroStockIsUnavailable(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := beans()
	p.StockQty = d("0")
	seeded := env.seed(t, p)

	_, err := env.cart.Add(ctx, testCart, seeded.ID)
	assert.ErrorIs(t, err, cartqty.ErrProductUnavailable)

	totals, err := env.cart.GetTotals(ctx, testCart)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.ItemCount)
}

// 在庫が刻みより少ない場合は在庫分だけ入る
func TestCart_AddCapsFirstStep(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := beans()
	p.StockQty = d("300")
	seeded := env.seed(t, p)

	res, err := env.cart.Add(ctx, testCart, seeded.ID)
	require.NoError(t, err)
	assert.True(t, res.Capped)
	assertDec(t, "300", res.Quantity)
}

// 既にある商品を追加したら刻み1つ分増える（明細は1つのまま）
func TestCart_AddExistingIncrements(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	first, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)
	second, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ItemID, second.ItemID)
	assertDec(t, "1000", second.Quantity)
	assert.Equal(t, 1, second.Cart.ItemCount)
}

func TestCart_IncrementAtCeilingKeepsQuantity(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := lemons()
	p.StockQty = d("2")
	seeded := env.seed(t, p)

	res, err := env.cart.Add(ctx, testCart, seeded.ID)
	require.NoError(t, err)
	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	require.NoError(t, err)

	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	assert.ErrorIs(t, err, cartqty.ErrOutOfStock)

	view, err := env.cart.GetCart(ctx, testCart)
	require.NoError(t, err)
	assertDec(t, "2", view.Items[0].Quantity)
}

// 在庫が後から減っても、減らす操作はできる
func TestCart_StockDropBelowQuantity(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, lemons())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)
	_, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("4"), Unit: "piece"})
	require.NoError(t, err)

	require.NoError(t, env.store.Inventory().SetStock(ctx, p.ID, d("3")))

	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	assert.ErrorIs(t, err, cartqty.ErrOutOfStock)

	out, err := env.cart.Decrement(ctx, testCart, res.ItemID)
	require.NoError(t, err)
	assertDec(t, "4", out.Quantity)
}

// 商品の価格を変えても既存明細の金額は変わらない
func TestCart_SnapshotSurvivesCatalogEdit(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)

	edited := p
	edited.Price = d("999")
	edited.StockQty = d("5000")
	require.NoError(t, env.store.Products().Update(ctx, edited))

	res, err = env.cart.Increment(ctx, testCart, res.ItemID)
	require.NoError(t, err)
	assertDec(t, "1000", res.Quantity)
	assertDec(t, "320", res.Item.LineTotal)
	assertDec(t, "160", res.Item.Price)

	// 新しい在庫は上限として効く
	res, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("3"), Unit: "kg"})
	require.NoError(t, err)
	assertDec(t, "4000", res.Quantity)
	assert.False(t, res.Capped)
}

// 削除済みの商品は増やせないが、減らす・削除はできる
func TestCart_DeletedProduct(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)
	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	require.NoError(t, err)

	require.NoError(t, env.store.Products().SoftDelete(ctx, p.ID))

	_, err = env.cart.Increment(ctx, testCart, res.ItemID)
	assert.ErrorIs(t, err, cartqty.ErrOutOfStock)

	out, err := env.cart.Decrement(ctx, testCart, res.ItemID)
	require.NoError(t, err)
	assertDec(t, "500", out.Quantity)

	totals, err := env.cart.Remove(ctx, testCart, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.ItemCount)
}

func TestCart_ClearIsIdempotent(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		p := lemons()
		p.Name = "lemon-" + string(rune('a'+i))
		seeded := env.seed(t, p)
		_, err := env.cart.Add(ctx, testCart, seeded.ID)
		require.NoError(t, err)
	}
	totals, err := env.cart.GetTotals(ctx, testCart)
	require.NoError(t, err)
	assert.Equal(t, 4, totals.ItemCount)
	assertDec(t, "120", totals.TotalPrice)

	require.NoError(t, env.cart.Clear(ctx, testCart))
	totals, err = env.cart.GetTotals(ctx, testCart)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.ItemCount)

	require.NoError(t, env.cart.Clear(ctx, testCart))
	totals, err = env.cart.GetTotals(ctx, testCart)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.ItemCount)
	assert.True(t, totals.TotalPrice.IsZero())
}

func TestCart_ClearUnknownCart(t *testing.T) {
	env := newCartEnv(t)
	assert.NoError(t, env.cart.Clear(context.Background(), "session:nobody"))
}

// 他のカートの明細は見つからない扱い
func TestCart_ItemOfAnotherCart(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	res, err := env.cart.Add(ctx, "user:1", p.ID)
	require.NoError(t, err)
	_, err = env.cart.GetCart(ctx, "user:2")
	require.NoError(t, err)

	_, err = env.cart.Increment(ctx, "user:2", res.ItemID)
	assert.ErrorIs(t, err, cartqty.ErrItemNotFound)
	_, err = env.cart.Remove(ctx, "user:2", res.ItemID)
	assert.ErrorIs(t, err, cartqty.ErrItemNotFound)
	_, err = env.cart.Decrement(ctx, "user:3", res.ItemID)
	assert.ErrorIs(t, err, cartqty.ErrItemNotFound)
}

func TestCart_AddUnknownProduct(t *testing.T) {
	env := newCartEnv(t)

	_, err := env.cart.Add(context.Background(), testCart, 42)
	assertErrContains(t, err, "product not found")
}

func TestCart_InvalidCartKey(t *testing.T) {
	env := newCartEnv(t)

	_, err := env.cart.GetCart(context.Background(), " ")
	assertErrContains(t, err, "invalid cart")
}

// 同じ明細への同時増加でも在庫を超えない
func TestCart_ConcurrentIncrementsNeverExceedStock(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := lemons()
	p.StockQty = d("25")
	seeded := env.seed(t, p)

	res, err := env.cart.Add(ctx, testCart, seeded.ID)
	require.NoError(t, err)

	const workers = 60
	var (
		wg       sync.WaitGroup
		ok       int
		outOfStk int
		mu       sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.cart.Increment(ctx, testCart, res.ItemID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, cartqty.ErrOutOfStock):
				outOfStk++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 24, ok)
	assert.Equal(t, workers-24, outOfStk)

	view, err := env.cart.GetCart(ctx, testCart)
	require.NoError(t, err)
	assertDec(t, "25", view.Items[0].Quantity)
}

// 同じ商品の同時追加でも明細は1つ
func TestCart_ConcurrentAddsShareOneItem(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, lemons())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.cart.Add(ctx, testCart, p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := env.cart.GetCart(ctx, testCart)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assertDec(t, "5", view.Items[0].Quantity)
}

// =====================
// repository error paths（mock）
// =====================

func TestCart_Increment_DBErrorOnLock(t *testing.T) {
	carts := new(CartRepoMock)
	items := new(CartItemRepoMock)
	products := new(ProductRepoMock)
	tx := &fakeTx{products: products, carts: carts, cartItems: items}
	uc := usecase.NewCartUsecase(tx, carts, items, products, nil)

	carts.On("FindByKey", mock.Anything, testCart).Return(model.Cart{ID: 1, Key: testCart}, nil)
	items.On("FindByIDForUpdate", mock.Anything, int64(7)).Return(model.CartItem{}, errors.New("conn reset"))

	_, err := uc.Increment(context.Background(), testCart, 7)
	assertErrContains(t, err, "db error")
	items.AssertNotCalled(t, "UpdateQuantity", mock.Anything, mock.Anything, mock.Anything)
}

func TestCart_Increment_NoCartIsItemNotFound(t *testing.T) {
	carts := new(CartRepoMock)
	items := new(CartItemRepoMock)
	products := new(ProductRepoMock)
	tx := &fakeTx{products: products, carts: carts, cartItems: items}
	uc := usecase.NewCartUsecase(tx, carts, items, products, nil)

	carts.On("FindByKey", mock.Anything, testCart).Return(model.Cart{}, repo.ErrNotFound)

	_, err := uc.Increment(context.Background(), testCart, 7)
	assert.ErrorIs(t, err, cartqty.ErrItemNotFound)
}

// 減らす操作は商品（在庫）を読まない
func TestCart_Decrement_DoesNotReadProduct(t *testing.T) {
	carts := new(CartRepoMock)
	items := new(CartItemRepoMock)
	products := new(ProductRepoMock)
	tx := &fakeTx{products: products, carts: carts, cartItems: items}
	uc := usecase.NewCartUsecase(tx, carts, items, products, nil)

	item := model.CartItem{
		ID:        7,
		CartID:    1,
		ProductID: 3,
		Quantity:  d("1000"),
		Family:    "weight",
		Snapshot: model.ProductSnapshot{
			Price:       d("160"),
			WeightValue: d("500"),
			WeightUnit:  "g",
			BaseUnit:    "500g",
			StockQty:    d("2000"),
		},
	}
	carts.On("FindByKey", mock.Anything, testCart).Return(model.Cart{ID: 1, Key: testCart}, nil)
	items.On("FindByIDForUpdate", mock.Anything, int64(7)).Return(item, nil)
	items.On("UpdateQuantity", mock.Anything, int64(7), d("500")).Return(nil)
	items.On("FindByID", mock.Anything, int64(7)).Return(item, nil)
	items.On("ListByCartID", mock.Anything, int64(1)).Return([]model.CartItem{item}, nil)
	products.On("FindByID", mock.Anything, int64(3)).Return(model.Product{ID: 3, Name: "beans"}, nil)

	res, err := uc.Decrement(context.Background(), testCart, 7)
	require.NoError(t, err)
	assertDec(t, "500", res.Quantity)

	items.AssertExpectations(t)
	// 表示名のための1回だけ
	products.AssertNumberOfCalls(t, "FindByID", 1)
}

func TestCart_PieceAmountsMustBeWhole(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, lemons())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)

	_, err = env.cart.AddAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("0.5"), Unit: "piece"})
	assert.ErrorIs(t, err, cartqty.ErrInvalidAmount)
	_, err = env.cart.RemoveAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("1.25"), Unit: "piece"})
	assert.ErrorIs(t, err, cartqty.ErrInvalidAmount)

	// 明細は変わらない
	view, err := env.cart.GetCart(ctx, testCart)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assertDec(t, "1", view.Items[0].Quantity)
	assertDec(t, "30", view.TotalPrice)
}

func TestCart_GramAmountsBeyondStoredPrecisionRejected(t *testing.T) {
	env := newCartEnv(t)
	ctx := context.Background()
	p := env.seed(t, beans())

	res, err := env.cart.Add(ctx, testCart, p.ID)
	require.NoError(t, err)

	_, err = env.cart.RemoveAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("499.9996"), Unit: "g"})
	assert.ErrorIs(t, err, cartqty.ErrInvalidAmount)

	out, err := env.cart.RemoveAmount(ctx, testCart, res.ItemID, usecase.AmountInput{Value: d("499.999"), Unit: "g"})
	require.NoError(t, err)
	assert.False(t, out.Removed)
	assertDec(t, "0.001", out.Quantity)
}
