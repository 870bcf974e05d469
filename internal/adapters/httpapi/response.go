package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/updown/internal/domain"
)

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"` // domain error code, e.g. "BetTooSmall"
	Data    any    `json:"data,omitempty"`
}

func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Error:   code,
	})
}

// Fail writes err with the status of its domain kind.
func Fail(c *gin.Context, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		status := http.StatusInternalServerError
		if errors.Is(err, c.Request.Context().Err()) && c.Request.Context().Err() != nil {
			status = http.StatusGatewayTimeout
		}
		Error(c, status, "", err.Error())
		return
	}
	Error(c, StatusFor(de.Kind), de.Code, err.Error())
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindStaleness:
		return http.StatusServiceUnavailable
	case domain.KindTiming, domain.KindConflict, domain.KindPayout:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
