package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newProductUC(p *ProductRepoMock, inv *InventoryRepoMock) *usecase.ProductUsecase {
	tx := &fakeTx{products: p, inventory: inv}
	return usecase.NewProductUsecase(tx, p, nil)
}

func beansInput() usecase.AdminProductInput {
	return usecase.AdminProductInput{
		Name:        " Coffee Beans ",
		Price:       d("160"),
		WeightValue: d("500"),
		WeightUnit:  "g",
		BaseUnit:    "500g",
		StockQty:    d("2"),
		StockUnit:   "kg",
		IsActive:    true,
	}
}

// =====================
// Public: List / Detail
// =====================

func TestProductUsecase_ListPublicProducts_InvalidPage(t *testing.T) {
	uc := newProductUC(new(ProductRepoMock), new(InventoryRepoMock))

	_, err := uc.ListPublicProducts(context.Background(), usecase.ListProductsInput{Page: 0, Limit: 20})
	assertErrContains(t, err, "invalid page")
}

func TestProductUsecase_ListPublicProducts_InvalidLimit(t *testing.T) {
	uc := newProductUC(new(ProductRepoMock), new(InventoryRepoMock))

	_, err := uc.ListPublicProducts(context.Background(), usecase.ListProductsInput{Page: 1, Limit: 101})
	assertErrContains(t, err, "invalid limit")
}

func TestProductUsecase_ListPublicProducts_InvalidSort(t *testing.T) {
	uc := newProductUC(new(ProductRepoMock), new(InventoryRepoMock))

	_, err := uc.ListPublicProducts(context.Background(), usecase.ListProductsInput{Page: 1, Limit: 20, Sort: "stock"})
	assertErrContains(t, err, "invalid sort")
}

func TestProductUsecase_ListPublicProducts_Success(t *testing.T) {
	ctx := context.Background()

	pRepo := new(ProductRepoMock)
	uc := newProductUC(pRepo, new(InventoryRepoMock))

	q := repo.ProductListQuery{Page: 1, Limit: 20, Q: "coffee", Sort: "new"}
	items := []model.Product{{ID: 1, Name: "A", IsActive: true}}
	pRepo.On("ListPublic", mock.Anything, q).Return(items, int64(1), nil)

	out, err := uc.ListPublicProducts(ctx, usecase.ListProductsInput{Page: 1, Limit: 20, Q: " coffee ", Sort: "new"})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), out.Total)
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 20, out.Limit)
	assert.Len(t, out.Items, 1)

	pRepo.AssertExpectations(t)
}

func TestProductUsecase_GetProductDetail_NotFound_WhenInactive(t *testing.T) {
	pRepo := new(ProductRepoMock)
	uc := newProductUC(pRepo, new(InventoryRepoMock))

	pRepo.On("FindByID", mock.Anything, int64(1)).Return(model.Product{ID: 1, IsActive: false}, nil)

	_, err := uc.GetProductDetail(context.Background(), 1)
	assertErrContains(t, err, "not found")
}

func TestProductUsecase_GetProductDetail_NotFound_WhenRepoNotFound(t *testing.T) {
	pRepo := new(ProductRepoMock)
	uc := newProductUC(pRepo, new(InventoryRepoMock))

	pRepo.On("FindByID", mock.Anything, int64(99)).Return(model.Product{}, repo.ErrNotFound)

	_, err := uc.GetProductDetail(context.Background(), 99)
	assertErrContains(t, err, "not found")
}

// =====================
// Admin: Product CRUD
// =====================

func TestProductUsecase_AdminCreateProduct_Unauthorized(t *testing.T) {
	uc := newProductUC(new(ProductRepoMock), new(InventoryRepoMock))

	_, err := uc.AdminCreateProduct(context.Background(), 0, beansInput())
	assertErrContains(t, err, "unauthorized")
}

func TestProductUsecase_AdminCreateProduct_Validation(t *testing.T) {
	uc := newProductUC(new(ProductRepoMock), new(InventoryRepoMock))

	cases := []struct {
		name string
		edit func(in *usecase.AdminProductInput)
		want string
	}{
		{"blank name", func(in *usecase.AdminProductInput) { in.Name = " " }, "name required"},
		{"negative price", func(in *usecase.AdminProductInput) { in.Price = d("-1") }, "price must be >= 0"},
		{"zero weight value", func(in *usecase.AdminProductInput) { in.WeightValue = d("0") }, "weight_value must be > 0"},
		{"unknown weight unit", func(in *usecase.AdminProductInput) { in.WeightUnit = "lb" }, "invalid weight_unit"},
		{"unknown base unit", func(in *usecase.AdminProductInput) { in.BaseUnit = "2kg" }, "invalid base_unit"},
		{"base unit family", func(in *usecase.AdminProductInput) { in.BaseUnit = "piece" }, "base_unit family mismatch"},
		{"stock unit family", func(in *usecase.AdminProductInput) { in.StockUnit = "piece" }, "stock_unit family mismatch"},
		{"negative stock", func(in *usecase.AdminProductInput) { in.StockQty = d("-5") }, "stock must be >= 0"},
		{"fractional piece stock", func(in *usecase.AdminProductInput) {
			in.WeightUnit, in.BaseUnit, in.WeightValue = "piece", "piece", d("1")
			in.StockUnit, in.StockQty = "piece", d("2.5")
		}, "stock must be whole pieces"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := beansInput()
			tc.edit(&in)
			_, err := uc.AdminCreateProduct(context.Background(), 1, in)
			assertErrContains(t, err, tc.want)
		})
	}
}

func TestProductUsecase_AdminCreateProduct_Success(t *testing.T) {
	pRepo := new(ProductRepoMock)
	uc := newProductUC(pRepo, new(InventoryRepoMock))

	pRepo.On("Create", mock.Anything, mock.MatchedBy(func(p model.Product) bool {
		return p.Name == "Coffee Beans" &&
			p.Price.Equal(d("160")) &&
			p.WeightUnit == "g" &&
			p.BaseUnit == "500g" &&
			p.StockUnit == "kg" &&
			p.StockQty.Equal(d("2"))
	})).Return(model.Product{ID: 123}, nil)

	id, err := uc.AdminCreateProduct(context.Background(), 1, beansInput())
	assert.NoError(t, err)
	assert.Equal(t, int64(123), id)

	pRepo.AssertExpectations(t)
}

// 在庫単位を省略したら基準単位（g / piece）
func TestProductUsecase_AdminCreateProduct_DefaultStockUnit(t *testing.T) {
	pRepo := new(ProductRepoMock)
	uc := newProductUC(pRepo, new(InventoryRepoMock))

	pRepo.On("Create", mock.Anything, mock.MatchedBy(func(p model.Product) bool {
		return p.StockUnit == "piece" && p.BaseUnit == "piece"
	})).Return(model.Product{ID: 5}, nil)

	in := usecase.AdminProductInput{
		Name:        "Lemon",
		Price:       d("30"),
		WeightValue: d("1"),
		WeightUnit:  "pieces",
		BaseUnit:    "piece",
		StockQty:    d("10"),
	}
	_, err := uc.AdminCreateProduct(context.Background(), 1, in)
	assert.NoError(t, err)
	pRepo.AssertExpectations(t)
}

func TestProductUsecase_AdminUpdateProduct_NotFound(t *testing.T) {
	pRepo := new(ProductRepoMock)
	uc := newProductUC(pRepo, new(InventoryRepoMock))

	pRepo.On("Update", mock.Anything, mock.AnythingOfType("model.Product")).Return(repo.ErrNotFound)

	err := uc.AdminUpdateProduct(context.Background(), 1, 999, beansInput())
	assertErrContains(t, err, "not found")
}

func TestProductUsecase_AdminDeleteProduct_Success(t *testing.T) {
	pRepo := new(ProductRepoMock)
	uc := newProductUC(pRepo, new(InventoryRepoMock))

	pRepo.On("SoftDelete", mock.Anything, int64(1)).Return(nil)

	err := uc.AdminDeleteProduct(context.Background(), 1, 1)
	assert.NoError(t, err)

	pRepo.AssertExpectations(t)
}

// =====================
// Admin: Inventory update
// =====================

func TestProductUsecase_AdminUpdateInventory_NegativeStock(t *testing.T) {
	uc := newProductUC(new(ProductRepoMock), new(InventoryRepoMock))

	err := uc.AdminUpdateInventory(context.Background(), 1, 1, d("-1"), "reason")
	assertErrContains(t, err, "stock must be >= 0")
}

func TestProductUsecase_AdminUpdateInventory_ReasonRequired(t *testing.T) {
	uc := newProductUC(new(ProductRepoMock), new(InventoryRepoMock))

	err := uc.AdminUpdateInventory(context.Background(), 1, 1, d("3"), "  ")
	assertErrContains(t, err, "reason required")
}

// 在庫更新 + 調整履歴（差分）
func TestProductUsecase_AdminUpdateInventory_Success(t *testing.T) {
	pRepo := new(ProductRepoMock)
	iRepo := new(InventoryRepoMock)
	uc := newProductUC(pRepo, iRepo)

	pRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Product{ID: 10, StockQty: d("5"), IsActive: true}, nil)
	iRepo.On("SetStock", mock.Anything, int64(10), d("12.5")).Return(nil)
	iRepo.On("CreateAdjustment", mock.Anything, mock.MatchedBy(func(adj model.InventoryAdjustment) bool {
		return adj.ProductID == 10 &&
			adj.AdminUserID == 1 &&
			adj.Delta.Equal(d("7.5")) &&
			strings.TrimSpace(adj.Reason) == adj.Reason
	})).Return(nil)

	err := uc.AdminUpdateInventory(context.Background(), 1, 10, d("12.5"), " adjust ")
	assert.NoError(t, err)

	pRepo.AssertExpectations(t)
	iRepo.AssertExpectations(t)
}

// 個数商品の在庫は整数だけ
func TestProductUsecase_AdminUpdateInventory_FractionalPieces(t *testing.T) {
	pRepo := new(ProductRepoMock)
	iRepo := new(InventoryRepoMock)
	uc := newProductUC(pRepo, iRepo)

	pRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Product{ID: 10, StockQty: d("5"), StockUnit: "piece", IsActive: true}, nil)

	err := uc.AdminUpdateInventory(context.Background(), 1, 10, d("2.5"), "recount")
	assertErrContains(t, err, "stock must be whole pieces")

	iRepo.AssertNotCalled(t, "SetStock", mock.Anything, mock.Anything, mock.Anything)
}

// 在庫更新でDBエラーなら 500
func TestProductUsecase_AdminUpdateInventory_DBError_OnSetStock(t *testing.T) {
	pRepo := new(ProductRepoMock)
	iRepo := new(InventoryRepoMock)
	uc := newProductUC(pRepo, iRepo)

	pRepo.On("FindByID", mock.Anything, int64(10)).Return(model.Product{ID: 10, StockQty: d("5"), IsActive: true}, nil)
	iRepo.On("SetStock", mock.Anything, int64(10), d("12")).Return(errors.New("db down"))

	err := uc.AdminUpdateInventory(context.Background(), 1, 10, d("12"), "adjust")
	assertErrContains(t, err, "db error")
	iRepo.AssertNotCalled(t, "CreateAdjustment", mock.Anything, mock.Anything)
}
