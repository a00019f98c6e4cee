package payments

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindServer           ErrorKind = "server"
	KindNoReceipt        ErrorKind = "no_receipt"
	KindFlowNotCompleted ErrorKind = "flow_not_completed"
	KindFlowFailed       ErrorKind = "flow_failed"
	KindStore            ErrorKind = "store"
	KindTimedOut         ErrorKind = "timed_out"
	KindCancelled        ErrorKind = "cancelled"
	KindUnknown          ErrorKind = "unknown"
)

var (
	ErrNoReceipt        = &Error{Kind: KindNoReceipt}
	ErrFlowNotCompleted = &Error{Kind: KindFlowNotCompleted}
	ErrTimedOut         = &Error{Kind: KindTimedOut}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrUnknown          = &Error{Kind: KindUnknown}
)

// Error is the single error type surfaced by the payments package.
// errors.Is matches on Kind, so ErrFlowNotCompleted matches any flow_not_completed error.
type Error struct {
	Kind      ErrorKind
	OrderID   uuid.UUID
	StoreCode int
	Status    string
	Err       error
}

func FlowFailed(orderID uuid.UUID) *Error {
	return &Error{Kind: KindFlowFailed, OrderID: orderID}
}

func StoreError(code int) *Error {
	return &Error{Kind: KindStore, StoreCode: code}
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

func serverError(status string) *Error {
	return &Error{Kind: KindServer, Status: status}
}

// Code is stable and safe to send to the backend as errorCode.
func (e *Error) Code() int {
	switch e.Kind {
	case KindNetwork:
		return 1000
	case KindServer:
		return 1001
	case KindNoReceipt:
		return 1002
	case KindFlowNotCompleted:
		return 1003
	case KindFlowFailed:
		return 1004
	case KindStore:
		return 2000 + e.StoreCode
	case KindTimedOut:
		return 1005
	case KindCancelled:
		return 1006
	default:
		return 1999
	}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("payments network error: %v", e.Err)
	case KindServer:
		return fmt.Sprintf("payments server reported failure: status=%q", e.Status)
	case KindNoReceipt:
		return "no purchase receipt available"
	case KindFlowNotCompleted:
		return "checkout flow did not complete"
	case KindFlowFailed:
		return fmt.Sprintf("checkout failed for order %s", e.OrderID)
	case KindStore:
		return fmt.Sprintf("purchase store error: code=%d", e.StoreCode)
	case KindTimedOut:
		return "purchase store request timed out"
	case KindCancelled:
		return "purchase cancelled"
	default:
		return "unknown payments error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// AsError maps any error onto *Error, wrapping foreign errors as network failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var paymentsErr *Error
	if errors.As(err, &paymentsErr) {
		return paymentsErr
	}
	return networkError(err)
}
