package book

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure wraps exactly one of the four category
// sentinels so callers can classify with errors.Is.
var (
	// ErrInvalidInput: non-positive quantity/price, inconsistent price
	// pairing. Always checked first.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCapacityExceeded: a bounded slot set is full. The caller must close
	// or withdraw an existing order/position first; nothing is auto-evicted.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInsufficientCollateral: excess collateral too small for the request.
	// Recoverable by shrinking the request or adding collateral.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrStateViolation: acting on a missing/empty order or position, a
	// non-borrowable order, or calling as the wrong party.
	ErrStateViolation = errors.New("state violation")

	// ErrUnderflow marks a subtraction that would go negative outside the
	// explicitly tolerated clamp sites. It indicates an accounting bug and
	// is never silently recovered.
	ErrUnderflow = errors.New("arithmetic underflow")
)

var (
	ErrInconsistentPrices   = fmt.Errorf("%w: inconsistent prices", ErrInvalidInput)
	ErrMaxOrdersReached     = fmt.Errorf("%w: max orders reached", ErrCapacityExceeded)
	ErrMaxPositionsReached  = fmt.Errorf("%w: max positions reached", ErrCapacityExceeded)
	ErrMaxBorrowingsReached = fmt.Errorf("%w: max borrowings reached", ErrCapacityExceeded)
	ErrOrderNotFound        = fmt.Errorf("%w: order not found", ErrStateViolation)
	ErrPositionNotFound     = fmt.Errorf("%w: position not found", ErrStateViolation)
	ErrNotMaker             = fmt.Errorf("%w: caller is not the maker", ErrStateViolation)
	ErrNotBorrower          = fmt.Errorf("%w: caller is not the borrower", ErrStateViolation)
	ErrNotBorrowable        = fmt.Errorf("%w: order is not borrowable", ErrStateViolation)
)
