package usecase

import (
	"errors"
	"fmt"
)

// HTTPError は入力不正・DB失敗などをHandlerにそのまま渡すためのエラー。
// カート数量の結果（在庫切れなど）は cartqty のエラーを返す。
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}
