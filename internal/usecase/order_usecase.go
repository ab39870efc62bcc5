package usecase

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"storefront/internal/domain/cartqty"
	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderUsecase struct {
	tx    repo.TransactionManager
	carts repo.CartRepository
	log   *zap.Logger
}

func NewOrderUsecase(tx repo.TransactionManager, carts repo.CartRepository, log *zap.Logger) *OrderUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderUsecase{tx: tx, carts: carts, log: log}
}

type PlaceOrderInput struct {
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type OrderOutput struct {
	ID         int64             `json:"id"`
	Status     string            `json:"status"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	CreatedAt  time.Time         `json:"created_at"`
	Items      []OrderItemOutput `json:"items"`
}

// PlaceOrder はカートを注文に変える。金額は明細のスナップショットから計算し、
// 在庫はこの時点の値で条件付きに減らす（足りなければ何も変えずに409）
func (u *OrderUsecase) PlaceOrder(ctx context.Context, cartKey string, in PlaceOrderInput) (OrderOutput, error) {
	if err := validateCartKey(cartKey); err != nil {
		return OrderOutput{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}

	cart, err := u.carts.FindByKey(ctx, cartKey)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "cart empty")
	}
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	var (
		out     OrderOutput
		created bool
	)

	//注文処理はトランザクション
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じカートの確定は1つずつ
		if err := r.Carts().LockForUpdate(ctx, cart.ID); err != nil {
			return dbError(err)
		}

		// 同じキーなら同じ結果
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, cartKey, key)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			out = toOrderOutput(existing, items)
			return nil
		}

		cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if len(cartItems) == 0 {
			return NewHTTPError(http.StatusBadRequest, "cart empty")
		}

		// 商品IDの順で在庫を押さえる（デッドロック回避）
		sort.Slice(cartItems, func(i, j int) bool { return cartItems[i].ProductID < cartItems[j].ProductID })

		orderItems := make([]model.OrderItem, 0, len(cartItems))
		total := decimal.Zero

		for _, ci := range cartItems {
			// 同時に走る数量変更を待ってから読む
			locked, err := r.CartItems().FindByIDForUpdate(ctx, ci.ID)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}

			it, err := locked.Engine()
			if err != nil {
				return err
			}
			line, err := it.LineTotal()
			if err != nil {
				return err
			}
			line = line.Round(2)

			p, err := r.Products().FindByID(ctx, locked.ProductID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
				return cartqty.ErrProductUnavailable
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}

			// 在庫は商品の StockUnit で減らす
			su, err := cartqty.ParseUnit(p.StockUnit)
			if err != nil {
				return cartqty.ErrProductUnavailable
			}
			qty, err := cartqty.Denormalize(locked.Quantity, it.Family(), su)
			if err != nil {
				return cartqty.ErrProductUnavailable
			}

			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, locked.ProductID, qty)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !ok {
				return cartqty.ErrOutOfStock
			}

			orderItems = append(orderItems, model.OrderItem{
				ProductID:           locked.ProductID,
				ProductNameSnapshot: p.Name,
				Quantity:            locked.Quantity,
				Family:              locked.Family,
				LineTotal:           line,
			})
			total = total.Add(line)
		}
		if len(orderItems) == 0 {
			return NewHTTPError(http.StatusBadRequest, "cart empty")
		}

		now := time.Now()
		order := model.Order{
			CartKey:        cartKey,
			Status:         model.OrderStatusPending,
			TotalPrice:     total,
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			return NewHTTPError(http.StatusConflict, "idempotency conflict")
		}
		order.ID = orderID

		//注文明細一括作成
		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		//明細をクリア（再注文防止）
		if err := r.Carts().Clear(ctx, cart.ID); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toOrderOutput(order, orderItems)
		created = true
		return nil
	})

	if err != nil {
		if errors.Is(err, cartqty.ErrOutOfStock) || errors.Is(err, cartqty.ErrProductUnavailable) {
			u.log.Info("checkout rejected", zap.String("cart", cartKey), zap.Error(err))
			return OrderOutput{}, err
		}
		return OrderOutput{}, dbError(err)
	}

	if created {
		u.log.Info("order placed", zap.String("cart", cartKey), zap.Int64("order_id", out.ID), zap.String("total", out.TotalPrice.String()))
	}
	return out, nil
}

// GetOrder は cartKey の注文だけ返す（他のカートの注文は存在しない扱い）
func (u *OrderUsecase) GetOrder(ctx context.Context, cartKey string, orderID int64) (OrderOutput, error) {
	if err := validateCartKey(cartKey); err != nil {
		return OrderOutput{}, err
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	cart, err := u.carts.FindByKey(ctx, cartKey)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	var out OrderOutput

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 確定と同じくカート単位で直列化（二重取消で在庫が二重に戻らない）
		if err := r.Carts().LockForUpdate(ctx, cart.ID); err != nil {
			return dbError(err)
		}

		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.CartKey != cartKey {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// CancelOrder は PENDING の注文を取り消して在庫を戻す
func (u *OrderUsecase) CancelOrder(ctx context.Context, cartKey string, orderID int64) (OrderOutput, error) {
	if err := validateCartKey(cartKey); err != nil {
		return OrderOutput{}, err
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	cart, err := u.carts.FindByKey(ctx, cartKey)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	var out OrderOutput

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 確定と同じくカート単位で直列化（二重取消で在庫が二重に戻らない）
		if err := r.Carts().LockForUpdate(ctx, cart.ID); err != nil {
			return dbError(err)
		}

		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.CartKey != cartKey {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if o.Status != model.OrderStatusPending {
			return NewHTTPError(http.StatusConflict, "order not cancelable")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		for _, it := range items {
			p, err := r.Products().FindByID(ctx, it.ProductID)
			if errors.Is(err, repo.ErrNotFound) {
				// 削除済みの商品には戻さない
				continue
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			su, err := cartqty.ParseUnit(p.StockUnit)
			if err != nil {
				continue
			}
			qty, err := cartqty.Denormalize(it.Quantity, cartqty.Family(it.Family), su)
			if err != nil {
				continue
			}
			if err := r.Inventory().IncreaseStock(ctx, it.ProductID, qty); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
		}

		if err := r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusCanceled); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		o.Status = model.OrderStatusCanceled
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, dbError(err)
	}

	u.log.Info("order canceled", zap.String("cart", cartKey), zap.Int64("order_id", orderID))
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Quantity:  it.Quantity,
			Unit:      it.Family,
			LineTotal: it.LineTotal,
		})
	}

	return OrderOutput{
		ID:         o.ID,
		Status:     string(o.Status),
		TotalPrice: o.TotalPrice,
		CreatedAt:  o.CreatedAt,
		Items:      outItems,
	}
}
