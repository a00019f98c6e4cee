package payments

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"paltabrain/sdk/internal/transport"
)

const TraceHeader = "X-Trace-Id"

const (
	PathStartCheckout     = "/v2/checkout/start"
	PathCheckoutCompleted = "/v2/checkout/completed"
	PathCheckoutFailed    = "/v2/checkout/failed"
	PathGetCheckout       = "/v2/checkout/get"
	PathRestorePurchase   = "/v2/checkout/restore"
	PathLog               = "/v2/checkout/log"
	PathGetFeatures       = "/v1/get-features"
	PathGetShowcase       = "/v2/showcase/get"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

type StartCheckoutRequest struct {
	CustomerID UserID `json:"customerId"`
	Ident      string `json:"ident"`
}

type StartCheckoutResponse struct {
	Status  string    `json:"status"`
	OrderID uuid.UUID `json:"orderId"`
}

type CheckoutCompletedRequest struct {
	OrderID               uuid.UUID `json:"orderId"`
	Receipt               string    `json:"receipt"`
	TransactionID         string    `json:"transactionId"`
	OriginalTransactionID string    `json:"originalTransactionId"`
}

type CheckoutFailedRequest struct {
	OrderID      uuid.UUID `json:"orderId"`
	ErrorCode    int       `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
}

type GetCheckoutRequest struct {
	OrderID uuid.UUID `json:"orderId"`
}

type GetCheckoutResponse struct {
	Status string        `json:"status"`
	State  CheckoutState `json:"state"`
}

type RestorePurchaseRequest struct {
	CustomerID UserID `json:"customerId"`
	Receipt    string `json:"receipt"`
}

type LogRequest struct {
	Level     LogLevel       `json:"level"`
	EventName string         `json:"eventName"`
	Data      map[string]any `json:"data,omitempty"`
}

type GetFeaturesRequest struct {
	CustomerID UserID `json:"customerId"`
}

type GetShowcaseRequest struct {
	CustomerID     UserID            `json:"customerId"`
	RequestContext map[string]string `json:"requestContext,omitempty"`
}

type GetShowcaseResponse struct {
	Status      string       `json:"status"`
	PricePoints []PricePoint `json:"pricePoints"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func encodeReceipt(receipt []byte) string {
	return base64.StdEncoding.EncodeToString(receipt)
}

// newRequest frames a JSON POST against the environment with the trace header set.
func newRequest(env Environment, path string, traceID uuid.UUID, payload any) (*transport.Request, error) {
	body, err := transport.JSONBody(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}
	return &transport.Request{
		Method:  http.MethodPost,
		BaseURL: env.String(),
		Path:    path,
		Headers: map[string]string{
			"Content-Type": "application/json",
			TraceHeader:    traceID.String(),
		},
		Body: body,
	}, nil
}

// call performs the request and decodes the response; transport failures become KindNetwork.
func call(ctx context.Context, client transport.Client, env Environment, path string, traceID uuid.UUID, payload, dest any) error {
	req, err := newRequest(env, path, traceID, payload)
	if err != nil {
		return &Error{Kind: KindUnknown, Err: err}
	}
	if err := transport.PerformJSON(ctx, client, req, dest); err != nil {
		return networkError(err)
	}
	return nil
}
