package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"storefront/internal/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	CtxCartKey = "cart_key" // string

	CartSessionHeader = "X-Cart-Session"
)

// CartIdentity はリクエストのカートキーを決める。
// ログイン済み（有効なJWT）なら "user:<sub>"、そうでなければ X-Cart-Session のセッションID。
// どちらも無ければ新しいセッションIDを発行してレスポンスヘッダで返す
func CartIdentity(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authz := c.Request().Header.Get("Authorization"); authz != "" {
				userID, role, err := parseBearer(cfg, authz)
				if err != nil {
					//トークンが付いているのに不正なら匿名にはしない
					return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
				}
				c.Set(CtxUserIDKey, userID)
				c.Set(CtxUserRoleKey, role)
				c.Set(CtxCartKey, "user:"+strconv.FormatInt(userID, 10))
				return next(c)
			}

			session := strings.TrimSpace(c.Request().Header.Get(CartSessionHeader))
			if session != "" {
				id, err := uuid.Parse(session)
				if err != nil {
					return c.JSON(http.StatusBadRequest, errorJSON("invalid cart session"))
				}
				session = id.String()
			} else {
				session = uuid.NewString()
			}

			c.Response().Header().Set(CartSessionHeader, session)
			c.Set(CtxCartKey, "session:"+session)
			return next(c)
		}
	}
}

// CartKeyFrom は CartIdentity が保存したカートキーを返す
func CartKeyFrom(c echo.Context) (string, bool) {
	key, ok := c.Get(CtxCartKey).(string)
	return key, ok && key != ""
}
