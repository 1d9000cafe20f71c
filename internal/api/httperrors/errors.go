package httperrors

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// HTTPError is the JSON body of every error response.
type HTTPError struct {
	Code  int    `json:"code"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

func NewHTTPError(code int, errorType string, title string) *echo.HTTPError {
	return echo.NewHTTPError(code, &HTTPError{Code: code, Type: errorType, Title: title})
}

var kindStatus = map[protocol.ErrorKind]int{
	protocol.KindNoCapacity:      http.StatusServiceUnavailable,
	protocol.KindPeerUnavailable: http.StatusBadGateway,
	protocol.KindStageFailure:    http.StatusBadGateway,
	protocol.KindTimeout:         http.StatusGatewayTimeout,
	protocol.KindCancelled:       http.StatusConflict,
	protocol.KindNotCoordinator:  http.StatusConflict,
	protocol.KindNoPlan:          http.StatusConflict,
	protocol.KindUnknownTask:     http.StatusNotFound,
	protocol.KindDuplicateTask:   http.StatusConflict,
}

// FromError maps a cluster error to an HTTP error by its kind.
func FromError(err error) *echo.HTTPError {
	kind := protocol.KindOf(err)
	code, ok := kindStatus[kind]
	if !ok {
		return NewHTTPError(http.StatusInternalServerError, "GENERIC", err.Error())
	}
	return NewHTTPError(code, kind.String(), err.Error())
}
