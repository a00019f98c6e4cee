package payments

import (
	"context"

	"github.com/google/uuid"

	"paltabrain/sdk/internal/transport"
)

// CheckoutService is the order lifecycle client used by CheckoutFlow.
type CheckoutService interface {
	StartCheckout(ctx context.Context, userID UserID, ident string, traceID uuid.UUID) (uuid.UUID, error)
	CompleteCheckout(ctx context.Context, orderID uuid.UUID, receipt []byte, tx Transaction, traceID uuid.UUID) error
	FailCheckout(ctx context.Context, orderID uuid.UUID, cause *Error, traceID uuid.UUID) error
	GetCheckout(ctx context.Context, orderID uuid.UUID, traceID uuid.UUID) (CheckoutState, error)
	RestorePurchases(ctx context.Context, userID UserID, receipt []byte, traceID uuid.UUID) error
	Log(ctx context.Context, level LogLevel, eventName string, data map[string]any, traceID uuid.UUID) error
}

type HTTPCheckoutService struct {
	env    Environment
	client transport.Client
}

func NewCheckoutService(env Environment, client transport.Client) *HTTPCheckoutService {
	return &HTTPCheckoutService{env: env, client: client}
}

func (s *HTTPCheckoutService) StartCheckout(ctx context.Context, userID UserID, ident string, traceID uuid.UUID) (uuid.UUID, error) {
	var resp StartCheckoutResponse
	err := call(ctx, s.client, s.env, PathStartCheckout, traceID, StartCheckoutRequest{CustomerID: userID, Ident: ident}, &resp)
	if err != nil {
		return uuid.Nil, err
	}
	if !statusOK(resp.Status) {
		return uuid.Nil, serverError(resp.Status)
	}
	return resp.OrderID, nil
}

func (s *HTTPCheckoutService) CompleteCheckout(ctx context.Context, orderID uuid.UUID, receipt []byte, tx Transaction, traceID uuid.UUID) error {
	payload := CheckoutCompletedRequest{
		OrderID:               orderID,
		Receipt:               encodeReceipt(receipt),
		TransactionID:         tx.ID,
		OriginalTransactionID: tx.OriginalID,
	}
	return s.expectOK(ctx, PathCheckoutCompleted, traceID, payload)
}

func (s *HTTPCheckoutService) FailCheckout(ctx context.Context, orderID uuid.UUID, cause *Error, traceID uuid.UUID) error {
	if cause == nil {
		cause = ErrUnknown
	}
	payload := CheckoutFailedRequest{
		OrderID:      orderID,
		ErrorCode:    cause.Code(),
		ErrorMessage: cause.Error(),
	}
	return s.expectOK(ctx, PathCheckoutFailed, traceID, payload)
}

func (s *HTTPCheckoutService) GetCheckout(ctx context.Context, orderID uuid.UUID, traceID uuid.UUID) (CheckoutState, error) {
	var resp GetCheckoutResponse
	if err := call(ctx, s.client, s.env, PathGetCheckout, traceID, GetCheckoutRequest{OrderID: orderID}, &resp); err != nil {
		return "", err
	}
	if !statusOK(resp.Status) || !resp.State.Valid() {
		return "", serverError(resp.Status)
	}
	return resp.State, nil
}

func (s *HTTPCheckoutService) RestorePurchases(ctx context.Context, userID UserID, receipt []byte, traceID uuid.UUID) error {
	payload := RestorePurchaseRequest{CustomerID: userID, Receipt: encodeReceipt(receipt)}
	return call(ctx, s.client, s.env, PathRestorePurchase, traceID, payload, nil)
}

func (s *HTTPCheckoutService) Log(ctx context.Context, level LogLevel, eventName string, data map[string]any, traceID uuid.UUID) error {
	payload := LogRequest{Level: level, EventName: eventName, Data: data}
	return call(ctx, s.client, s.env, PathLog, traceID, payload, nil)
}

func (s *HTTPCheckoutService) expectOK(ctx context.Context, path string, traceID uuid.UUID, payload any) error {
	var resp StatusResponse
	if err := call(ctx, s.client, s.env, path, traceID, payload, &resp); err != nil {
		return err
	}
	if !statusOK(resp.Status) {
		return serverError(resp.Status)
	}
	return nil
}
