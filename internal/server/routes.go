package server

import (
	"net/http"

	"storefront/internal/config"
	"storefront/internal/handler"
	repo "storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Backend はストレージ実装（postgres / memory）から受け取るリポジトリ一式
type Backend struct {
	Tx        repo.TransactionManager
	Products  repo.ProductRepository
	Carts     repo.CartRepository
	CartItems repo.CartItemRepository
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, log *zap.Logger, b Backend) {
	//Usecase生成
	cartUC := usecase.NewCartUsecase(b.Tx, b.Carts, b.CartItems, b.Products, log.Named("cart"))
	productUC := usecase.NewProductUsecase(b.Tx, b.Products, log.Named("product"))
	orderUC := usecase.NewOrderUsecase(b.Tx, b.Carts, log.Named("order"))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})

	handler.NewProductHandler(productUC).RegisterRoutes(e)
	handler.NewAdminProductHandler(productUC).RegisterRoutes(e, cfg)
	handler.NewCartHandler(cartUC).RegisterRoutes(e, cfg)
	handler.NewOrderHandler(orderUC).RegisterRoutes(e, cfg)
}
