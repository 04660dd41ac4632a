package httpx

import (
	"errors"
	"net/http"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps order core errors to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, orders.ErrProductNotFound):
		return http.StatusUnprocessableEntity, "product_not_found"
	case errors.Is(err, orders.ErrProductUnavailable):
		return http.StatusConflict, "product_unavailable"
	case errors.Is(err, orders.ErrInsufficientTokenBalance):
		return http.StatusUnprocessableEntity, "insufficient_token_balance"
	case errors.Is(err, orders.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrOrderNotCancellable):
		return http.StatusConflict, "order_not_cancellable"
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, orders.ErrActorNotPermitted):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, orders.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	code, slug := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, Code: slug})
}
