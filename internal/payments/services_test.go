package payments

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paltabrain/sdk/internal/transport"
)

type recordedRequest struct {
	Path    string
	TraceID string
	Body    map[string]any
}

type backend struct {
	mu       sync.Mutex
	requests []recordedRequest
	replies  map[string]string
	server   *httptest.Server
}

func newBackend(t *testing.T, replies map[string]string) *backend {
	t.Helper()
	b := &backend{replies: replies}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{Path: r.URL.Path, TraceID: r.Header.Get(TraceHeader), Body: body})
		reply, ok := b.replies[r.URL.Path]
		b.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) env() Environment { return Environment(b.server.URL) }

func (b *backend) last() recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func client() transport.Client {
	return transport.NewRestyClient(2 * time.Second)
}

func TestStartCheckoutSendsCustomerAndTrace(t *testing.T) {
	orderID := uuid.New()
	b := newBackend(t, map[string]string{
		PathStartCheckout: `{"status":"OK","orderId":"` + orderID.String() + `"}`,
	})
	svc := NewCheckoutService(b.env(), client())
	userID := UUIDUser(uuid.New())
	traceID := uuid.New()

	got, err := svc.StartCheckout(context.Background(), userID, "ident-1", traceID)
	require.NoError(t, err)
	assert.Equal(t, orderID, got)

	req := b.last()
	assert.Equal(t, PathStartCheckout, req.Path)
	assert.Equal(t, traceID.String(), req.TraceID)
	assert.Equal(t, userID.String(), req.Body["customerId"])
	assert.Equal(t, "ident-1", req.Body["ident"])
}

func TestStartCheckoutServerFailure(t *testing.T) {
	b := newBackend(t, map[string]string{PathStartCheckout: `{"status":"error"}`})
	svc := NewCheckoutService(b.env(), client())

	_, err := svc.StartCheckout(context.Background(), StringUser("u"), "x", uuid.New())
	require.Error(t, err)

	var paymentsErr *Error
	require.ErrorAs(t, err, &paymentsErr)
	assert.Equal(t, KindServer, paymentsErr.Kind)
}

func TestStartCheckoutWithoutResponse(t *testing.T) {
	b := newBackend(t, nil)
	env := b.env()
	b.server.Close()

	_, err := NewCheckoutService(env, client()).StartCheckout(context.Background(), StringUser("u"), "x", uuid.New())
	require.Error(t, err)

	var paymentsErr *Error
	require.ErrorAs(t, err, &paymentsErr)
	assert.Equal(t, KindNetwork, paymentsErr.Kind)
	assert.ErrorIs(t, err, transport.ErrNoResponse)
}

func TestCompleteCheckoutEncodesReceipt(t *testing.T) {
	b := newBackend(t, map[string]string{PathCheckoutCompleted: `{"status":"ok"}`})
	svc := NewCheckoutService(b.env(), client())
	orderID := uuid.New()
	receipt := []byte{0, 1, 2, 250}

	err := svc.CompleteCheckout(context.Background(), orderID, receipt, Transaction{ID: "tx", OriginalID: "orig"}, uuid.New())
	require.NoError(t, err)

	req := b.last()
	assert.Equal(t, orderID.String(), req.Body["orderId"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(receipt), req.Body["receipt"])
	assert.Equal(t, "tx", req.Body["transactionId"])
	assert.Equal(t, "orig", req.Body["originalTransactionId"])
}

func TestFailCheckoutSendsErrorCode(t *testing.T) {
	b := newBackend(t, map[string]string{PathCheckoutFailed: `{"status":"ok"}`})
	svc := NewCheckoutService(b.env(), client())

	require.NoError(t, svc.FailCheckout(context.Background(), uuid.New(), ErrNoReceipt, uuid.New()))

	req := b.last()
	assert.EqualValues(t, ErrNoReceipt.Code(), req.Body["errorCode"])
	assert.Equal(t, ErrNoReceipt.Error(), req.Body["errorMessage"])
}

func TestGetCheckoutState(t *testing.T) {
	b := newBackend(t, map[string]string{PathGetCheckout: `{"status":"ok","state":"processing"}`})
	state, err := NewCheckoutService(b.env(), client()).GetCheckout(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, state)
}

func TestLogOmitsEmptyData(t *testing.T) {
	b := newBackend(t, map[string]string{PathLog: `{"status":"ok"}`})
	svc := NewCheckoutService(b.env(), client())

	require.NoError(t, svc.Log(context.Background(), LevelInfo, "start_checkout", nil, uuid.New()))

	req := b.last()
	assert.Equal(t, "info", req.Body["level"])
	assert.Equal(t, "start_checkout", req.Body["eventName"])
	_, hasData := req.Body["data"]
	assert.False(t, hasData)
}

func TestGetFeatures(t *testing.T) {
	b := newBackend(t, map[string]string{
		PathGetFeatures: `{"features":[{"name":"premium","quantity":1,"actualFrom":"2026-01-01T00:00:00Z","transactionType":"subscription","lastTransactionType":"renewal"}]}`,
	})
	userID := StringUser("customer-1")

	features, err := NewFeaturesService(b.env(), client()).GetFeatures(context.Background(), userID, uuid.New())
	require.NoError(t, err)
	require.True(t, features.Has("premium"))
	assert.Equal(t, PathGetFeatures, b.last().Path)
	assert.Equal(t, "customer-1", b.last().Body["customerId"])
}

func TestShowcaseProductIDsAreDistinct(t *testing.T) {
	b := newBackend(t, map[string]string{
		PathGetShowcase: `{"status":"ok","pricePoints":[
			{"ident":"a","productId":"com.app.year","priority":1},
			{"ident":"b","productId":"com.app.month","priority":2},
			{"ident":"c","productId":"com.app.year","useIntroOffer":true,"priority":3}
		]}`,
	})
	svc := NewShowcaseService(b.env(), client()).WithRequestContext(map[string]string{"placement": "onboarding"})

	ids, err := svc.GetProductIDs(context.Background(), StringUser("u"), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.app.month", "com.app.year"}, ids)
	assert.Equal(t, map[string]any{"placement": "onboarding"}, b.last().Body["requestContext"])
}

func TestEnvironments(t *testing.T) {
	assert.Equal(t, "https://api.payments.dev.paltabrain.com", Dev.String())
	assert.Equal(t, "https://api.payments.paltabrain.com", Prod.String())
	assert.True(t, Prod.IsProduction())
	assert.False(t, Dev.IsProduction())
}

func TestUserIDRoundTrip(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, UUIDUser(id), ParseUserID(id.String()))
	assert.Equal(t, StringUser("plain"), ParseUserID("plain"))

	var decoded UserID
	require.NoError(t, json.Unmarshal([]byte(`"plain"`), &decoded))
	assert.Equal(t, "plain", decoded.String())
}

func TestErrorMatchingByKind(t *testing.T) {
	orderID := uuid.New()
	err := FlowFailed(orderID)
	assert.ErrorIs(t, err, FlowFailed(uuid.New()))
	assert.NotErrorIs(t, err, ErrFlowNotCompleted)
	assert.Contains(t, err.Error(), orderID.String())
	assert.Equal(t, 2002, StoreError(2).Code())
}
