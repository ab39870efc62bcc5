package handler

import (
	"context"
	"net/http"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// /cartのHTTP
type CartHandler struct {
	uc *usecase.CartUsecase
}

// DI
func NewCartHandler(uc *usecase.CartUsecase) *CartHandler {
	return &CartHandler{uc: uc}
}

type AddCartRequest struct {
	ProductID int64 `json:"product_id"`
}

// 任意量の指定。value は数値でも文字列でもよい
type AmountRequest struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit"`
}

// /cart, /cart/items を登録
func (h *CartHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/cart")
	g.Use(middleware.CartIdentity(cfg))

	g.GET("", h.getCart)
	g.DELETE("", h.clear)
	g.POST("/items", h.add)
	g.POST("/items/:id/increment", h.increment)
	g.POST("/items/:id/decrement", h.decrement)
	g.POST("/items/:id/add-amount", h.addAmount)
	g.POST("/items/:id/remove-amount", h.removeAmount)
	g.DELETE("/items/:id", h.remove)
}

func (h *CartHandler) getCart(c echo.Context) error {
	key, ok := middleware.CartKeyFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.GetCart(c.Request().Context(), key)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) add(c echo.Context) error {
	key, ok := middleware.CartKeyFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req AddCartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.Add(c.Request().Context(), key, req.ProductID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) increment(c echo.Context) error {
	return h.onItem(c, h.uc.Increment)
}

func (h *CartHandler) decrement(c echo.Context) error {
	return h.onItem(c, h.uc.Decrement)
}

func (h *CartHandler) addAmount(c echo.Context) error {
	return h.onAmount(c, h.uc.AddAmount)
}

func (h *CartHandler) removeAmount(c echo.Context) error {
	return h.onAmount(c, h.uc.RemoveAmount)
}

func (h *CartHandler) remove(c echo.Context) error {
	key, ok := middleware.CartKeyFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	itemID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.Remove(c.Request().Context(), key, itemID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) clear(c echo.Context) error {
	key, ok := middleware.CartKeyFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.uc.Clear(c.Request().Context(), key); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "cleared"})
}

func (h *CartHandler) onItem(c echo.Context, fn func(ctx context.Context, cartKey string, itemID int64) (usecase.MutationResult, error)) error {
	key, ok := middleware.CartKeyFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	itemID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := fn(c.Request().Context(), key, itemID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) onAmount(c echo.Context, fn func(ctx context.Context, cartKey string, itemID int64, in usecase.AmountInput) (usecase.MutationResult, error)) error {
	key, ok := middleware.CartKeyFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	itemID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req AmountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := fn(c.Request().Context(), key, itemID, usecase.AmountInput{Value: req.Value, Unit: req.Unit})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
