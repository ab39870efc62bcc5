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

type ProductUsecase struct {
	tx          repo.TransactionManager
	productRepo repo.ProductRepository
	log         *zap.Logger
}

// DI
func NewProductUsecase(
	tx repo.TransactionManager,
	productRepo repo.ProductRepository,
	log *zap.Logger,
) *ProductUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProductUsecase{
		tx:          tx,
		productRepo: productRepo,
		log:         log,
	}
}

// GET /productsの入力DTO
type ListProductsInput struct {
	Page  int
	Limit int
	Q     string
	Sort  string
}

type ProductListOutput struct {
	Items []model.Product `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListPublicProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "q too long")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc":
	default:
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid sort")
	}

	items, total, err := u.productRepo.ListPublic(ctx, repo.ProductListQuery{
		Page:  in.Page,
		Limit: in.Limit,
		Q:     strings.TrimSpace(in.Q),
		Sort:  in.Sort,
	})
	if err != nil {
		return ProductListOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	return ProductListOutput{
		Items: items,
		Total: total,
		Page:  in.Page,
		Limit: in.Limit,
	}, nil
}

func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (model.Product, error) {
	if productID <= 0 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	if !p.IsActive {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	return p, nil
}

// 管理画面の作成/更新で共通の入力
type AdminProductInput struct {
	Name         string
	Description  string
	DisplayNames map[string]string
	Price        decimal.Decimal
	WeightValue  decimal.Decimal
	WeightUnit   string
	BaseUnit     string
	StockQty     decimal.Decimal
	StockUnit    string
	IsActive     bool
}

// toProduct は単位の表記をそろえ、ファミリーが揃っているかを確認する
func (in AdminProductInput) toProduct() (model.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "name required")
	}
	if in.Price.IsNegative() {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "price must be >= 0")
	}
	if !in.WeightValue.IsPositive() {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "weight_value must be > 0")
	}
	if in.StockQty.IsNegative() {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "stock must be >= 0")
	}

	wu, err := cartqty.ParseUnit(in.WeightUnit)
	if err != nil {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid weight_unit")
	}
	bu, err := cartqty.ParseBaseUnit(in.BaseUnit)
	if err != nil {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid base_unit")
	}
	// 在庫単位は省略時、価格基準のファミリーの基準単位
	su := wu.Family().BaseUnit()
	if strings.TrimSpace(in.StockUnit) != "" {
		su, err = cartqty.ParseUnit(in.StockUnit)
		if err != nil {
			return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid stock_unit")
		}
	}
	if bu.Family() != wu.Family() {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "base_unit family mismatch")
	}
	if su.Family() != wu.Family() {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "stock_unit family mismatch")
	}
	if err := validateStockUnit(in.StockQty, su); err != nil {
		return model.Product{}, err
	}

	return model.Product{
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		DisplayNames: in.DisplayNames,
		Price:        in.Price,
		WeightValue:  in.WeightValue,
		WeightUnit:   string(wu),
		BaseUnit:     string(bu),
		StockQty:     in.StockQty,
		StockUnit:    string(su),
		IsActive:     in.IsActive,
	}, nil
}

// 個数の在庫は整数のみ
func validateStockUnit(stock decimal.Decimal, su cartqty.Unit) error {
	if su.Family() == cartqty.FamilyCount && !stock.IsInteger() {
		return NewHTTPError(http.StatusBadRequest, "stock must be whole pieces")
	}
	return nil
}

func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, adminUserID int64, in AdminProductInput) (int64, error) {
	if adminUserID <= 0 {
		return 0, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	p, err := in.toProduct()
	if err != nil {
		return 0, err
	}

	created, err := u.productRepo.Create(ctx, p)
	if err != nil {
		return 0, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	u.log.Info("product created", zap.Int64("product_id", created.ID), zap.Int64("admin_user_id", adminUserID))
	return created.ID, nil
}

// AdminUpdateProduct は商品を更新する。既存のカート明細のスナップショットは変わらない
func (u *ProductUsecase) AdminUpdateProduct(ctx context.Context, adminUserID int64, productID int64, in AdminProductInput) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	p, err := in.toProduct()
	if err != nil {
		return err
	}
	p.ID = productID

	err = u.productRepo.Update(ctx, p)
	if errors.Is(err, repo.ErrNotFound) {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return nil
}

func (u *ProductUsecase) AdminDeleteProduct(ctx context.Context, adminUserID int64, productID int64) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	err := u.productRepo.SoftDelete(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return nil
}

// AdminUpdateInventory は在庫を newStock（商品の StockUnit）にして履歴を残す。
// カート側は次の増加操作で新しい在庫を読む
func (u *ProductUsecase) AdminUpdateInventory(ctx context.Context, adminUserID int64, productID int64, newStock decimal.Decimal, reason string) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if newStock.IsNegative() {
		return NewHTTPError(http.StatusBadRequest, "stock must be >= 0")
	}
	if strings.TrimSpace(reason) == "" {
		return NewHTTPError(http.StatusBadRequest, "reason required")
	}

	var delta decimal.Decimal
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//変更前の在庫
		p, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if su, err := cartqty.ParseUnit(p.StockUnit); err == nil {
			if err := validateStockUnit(newStock, su); err != nil {
				return err
			}
		}
		delta = newStock.Sub(p.StockQty)

		if err := r.Inventory().SetStock(ctx, productID, newStock); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		//履歴を作成（差分）
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			ProductID:   productID,
			AdminUserID: adminUserID,
			Delta:       delta,
			Reason:      strings.TrimSpace(reason),
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return dbError(err)
	}

	u.log.Info("inventory updated",
		zap.Int64("product_id", productID),
		zap.Int64("admin_user_id", adminUserID),
		zap.String("stock", newStock.String()),
		zap.String("delta", delta.String()),
	)
	return nil
}
