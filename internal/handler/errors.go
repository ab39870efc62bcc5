package handler

import (
	"errors"
	"net/http"
	"strconv"

	"storefront/internal/domain/cartqty"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse は { message: string } の形
type SuccessResponse struct {
	Message string `json:"message"`
}

// 数量エンジンのエラー → HTTPステータス
var domainStatus = []struct {
	err    error
	status int
}{
	{cartqty.ErrProductUnavailable, http.StatusConflict},
	{cartqty.ErrOutOfStock, http.StatusConflict},
	{cartqty.ErrUnitFamilyMismatch, http.StatusBadRequest},
	{cartqty.ErrInvalidAmount, http.StatusBadRequest},
	{cartqty.ErrUnknownUnit, http.StatusBadRequest},
	{cartqty.ErrItemNotFound, http.StatusNotFound},
	{cartqty.ErrInvalidSnapshot, http.StatusUnprocessableEntity},
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}
	for _, d := range domainStatus {
		if errors.Is(err, d.err) {
			return c.JSON(d.status, ErrorResponse{Error: d.err.Error()})
		}
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func parseID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// getUserIDFromContext は middleware.AuthJWT が入れた管理者IDを取り出す
func getUserIDFromContext(c echo.Context) (int64, bool) {
	return middleware.UserIDFrom(c)
}
