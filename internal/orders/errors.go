package orders

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrEmptyOrder      = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than 0", ErrValidation)

	ErrProductUnavailable = errors.New("product unavailable")
	ErrProductNotFound    = fmt.Errorf("%w: product not found", ErrProductUnavailable)
	ErrInsufficientStock  = errors.New("insufficient stock")

	ErrInvalidStatus       = errors.New("invalid order status")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
	ErrOrderNotFound       = errors.New("order not found")

	ErrInsufficientTokenBalance = errors.New("insufficient token balance")
	ErrActorNotPermitted        = errors.New("actor not permitted")

	// ErrConflict is returned by stores on unique-key collisions.
	ErrConflict = errors.New("conflict")
	// ErrStorage wraps unexpected store failures surfaced by the service layer.
	ErrStorage = errors.New("storage failure")
)

// ProductError names the product behind an availability or stock failure.
type ProductError struct {
	ProductID string
	Name      string
	Requested int
	Available int
	Err       error
}

func (e *ProductError) Error() string {
	label := e.ProductID
	if e.Name != "" {
		label = fmt.Sprintf("%q (%s)", e.Name, e.ProductID)
	}
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("%v: product %s has %d in stock, %d requested", e.Err, label, e.Available, e.Requested)
	}
	return fmt.Sprintf("%v: product %s", e.Err, label)
}

func (e *ProductError) Unwrap() error { return e.Err }

// StatusError carries the order status that blocked an operation.
type StatusError struct {
	OrderID string
	Current Status
	Target  Status
	Err     error
}

func (e *StatusError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%v: %s -> %s", e.Err, e.Current, e.Target)
	}
	return fmt.Sprintf("%v: current status %s", e.Err, e.Current)
}

func (e *StatusError) Unwrap() error { return e.Err }

type TokenBalanceError struct {
	Requested int
	Balance   int
}

func (e *TokenBalanceError) Error() string {
	return fmt.Sprintf("%v: requested %d, balance %d", ErrInsufficientTokenBalance, e.Requested, e.Balance)
}

func (e *TokenBalanceError) Unwrap() error { return ErrInsufficientTokenBalance }

// IsDomainError reports whether err is one of the order core's own failures
// rather than a store or transport error.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrProductUnavailable,
		ErrInsufficientStock,
		ErrInvalidStatus,
		ErrInvalidTransition,
		ErrOrderNotCancellable,
		ErrOrderNotFound,
		ErrInsufficientTokenBalance,
		ErrActorNotPermitted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
