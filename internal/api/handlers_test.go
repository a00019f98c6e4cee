package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paltabrain/sdk/internal/analytics"
	"paltabrain/sdk/internal/analytics/event"
	eventqueue "paltabrain/sdk/internal/analytics/queue"
	"paltabrain/sdk/internal/analytics/wire"
	"paltabrain/sdk/internal/kv"
	"paltabrain/sdk/internal/payments"
	"paltabrain/sdk/internal/queue"
	"paltabrain/sdk/internal/transport"
)

func newStub(t *testing.T, opts Options) (*Handler, *httptest.Server) {
	t.Helper()
	handler := NewHandler(opts)
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)
	return handler, server
}

func getJSON(t *testing.T, url string, dest any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type recordingArchiver struct {
	mu      sync.Mutex
	batches [][]event.Event
	reasons []string
}

func (a *recordingArchiver) ArchiveBatch(_ context.Context, events []event.Event, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, events)
	a.reasons = append(a.reasons, reason)
	return nil
}

func newTracker(url string, archiver eventqueue.Archiver) *analytics.Tracker {
	return analytics.New(analytics.Settings{
		URL:                url,
		SDKName:            "PaltaBrainSDK",
		SDKVersion:         "test",
		Queue:              eventqueue.Config{UploadThreshold: 100, MaxBatchSize: 100, MaxEvents: 1000, UploadInterval: time.Hour},
		TrackSessionEvents: true,
	}, analytics.Deps{
		Store:    kv.NewMemoryStore(),
		Client:   transport.NewRestyClient(2 * time.Second),
		Device:   analytics.StaticDevice{AppVersion: "1.0", OSVersion: "17.0"},
		Archiver: archiver,
	})
}

func TestTrackerUploadsToIngest(t *testing.T) {
	_, server := newStub(t, Options{})
	tracker := newTracker(server.URL+"/events", nil)
	email := "person@example.com"
	tracker.SetUserID(&email)

	tracker.Track("paywall_shown", event.PropertiesOf(map[string]any{"placement": "onboarding", "contact_email": "x@y.io"}))
	require.NoError(t, tracker.Flush(context.Background()))

	var all struct {
		Count  int               `json:"count"`
		Events []json.RawMessage `json:"events"`
	}
	getJSON(t, server.URL+"/admin/events", &all)
	assert.Equal(t, 2, all.Count)

	var filtered struct {
		Count  int `json:"count"`
		Events []struct {
			EventType       string         `json:"event_type"`
			UserID          string         `json:"user_id"`
			EventProperties map[string]any `json:"event_properties"`
		} `json:"events"`
	}
	getJSON(t, server.URL+"/admin/events?event_type=paywall_shown", &filtered)
	require.Equal(t, 1, filtered.Count)
	got := filtered.Events[0]
	assert.Equal(t, "<email>", got.UserID)
	assert.Equal(t, "onboarding", got.EventProperties["placement"])
	assert.Equal(t, "<redacted>", got.EventProperties["contact_email"])
}

func TestIngestRejectsMalformedBatch(t *testing.T) {
	_, server := newStub(t, Options{})
	resp, err := http.Post(server.URL+"/events", wire.ContentType, strings.NewReader("\xff\xff\xff"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRejectedBatchIsArchivedAndDropped(t *testing.T) {
	_, server := newStub(t, Options{RejectEventTypes: []string{"poison"}})
	archiver := &recordingArchiver{}
	tracker := newTracker(server.URL+"/events", archiver)

	tracker.Track("poison", event.Properties{})
	require.NoError(t, tracker.Flush(context.Background()))

	assert.Equal(t, 0, tracker.Pending())
	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.batches, 1)
	assert.Contains(t, archiver.reasons[0], "422")
}

func TestIngestPublishesBatchJob(t *testing.T) {
	mr := miniredis.RunT(t)
	producer, err := queue.NewRedisProducer(mr.Addr(), "brain-batches", "brain-orders")
	require.NoError(t, err)
	t.Cleanup(func() { _ = producer.Close() })

	_, server := newStub(t, Options{Producer: producer})
	tracker := newTracker(server.URL+"/events", nil)
	tracker.Track("app_open", event.Properties{})
	require.NoError(t, tracker.Flush(context.Background()))

	var stats queue.StreamStats
	getJSON(t, server.URL+"/admin/queue", &stats)
	assert.EqualValues(t, 1, stats.BatchStreamDepth)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rows, err := client.XRange(context.Background(), "brain-batches", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Values["payload"], `"sdkName":"PaltaBrainSDK"`)
}

func TestQueueStatsUnavailableWithoutRedis(t *testing.T) {
	_, server := newStub(t, Options{})
	resp, err := http.Get(server.URL + "/admin/queue")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type webhookSink struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func newWebhookSink(t *testing.T) (*webhookSink, *httptest.Server) {
	t.Helper()
	sink := &webhookSink{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(raw, &payload)
		sink.mu.Lock()
		sink.payloads = append(sink.payloads, payload)
		sink.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return sink, server
}

func (s *webhookSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

var yearly = payments.PricePoint{Ident: "premium", AppStoreID: "com.app.year", Priority: 1}

func newPayments(server *httptest.Server, store *payments.SandboxStore) *payments.Payments {
	return payments.New(payments.Environment(server.URL), payments.Deps{
		Client:         transport.NewRestyClient(2 * time.Second),
		Purchases:      store,
		Products:       store,
		Receipts:       payments.StaticReceipt("receipt-bytes"),
		ProductTimeout: time.Second,
	})
}

func TestCheckoutInstantSettlement(t *testing.T) {
	sink, webhook := newWebhookSink(t)
	_, server := newStub(t, Options{PricePoints: []payments.PricePoint{yearly}, OrderWebhookURL: webhook.URL})
	store := payments.NewSandboxStore(payments.StoreProduct{ProductIdentifier: "com.app.year", Price: "29.99"})
	p := newPayments(server, store)
	userID := payments.StringUser("customer-1")
	ctx := context.Background()

	products, err := p.GetProducts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, products, 1)

	done := make(chan error, 1)
	flow := p.Purchase(ctx, products[0].Showcase(), userID, func(features payments.PaidFeatures, err error) {
		if err == nil && !features.Has("premium") {
			err = assert.AnError
		}
		done <- err
	}, nil)
	traceID := flow.TraceID().String()
	require.NoError(t, <-done)

	assert.Len(t, store.Closed(), 1)
	assert.Equal(t, 1, sink.count())

	expected := []string{
		"start_checkout",
		"appstore_purchase_started",
		"retrieving_receipt",
		"receipt_retrieved",
		"get_checkout_state",
		"get_checkout_success",
	}
	var names []string
	require.Eventually(t, func() bool {
		var logs struct {
			Logs []LogEntry `json:"logs"`
		}
		getJSON(t, server.URL+"/admin/logs?trace_id="+traceID, &logs)
		names = names[:0]
		for _, entry := range logs.Logs {
			names = append(names, entry.EventName)
		}
		return len(names) == len(expected)
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, expected, names)

	features, err := p.GetPaidFeatures(ctx, userID)
	require.NoError(t, err)
	feature, ok := features.Feature("premium")
	require.True(t, ok)
	assert.Equal(t, 1, feature.Quantity)
}

func TestCheckoutManualSettlement(t *testing.T) {
	handler, server := newStub(t, Options{Settlement: SettlementManual})
	store := payments.NewSandboxStore(payments.StoreProduct{ProductIdentifier: "com.app.year"})
	p := newPayments(server, store)
	userID := payments.StringUser("customer-2")
	product := payments.ShowcaseProduct{Ident: "premium", ProductIdentifier: "com.app.year"}

	_, err := p.PurchaseAndWait(context.Background(), product, userID)
	require.ErrorIs(t, err, payments.ErrFlowNotCompleted)

	handler.state.mu.Lock()
	require.Len(t, handler.state.orders, 1)
	var orderID string
	for id := range handler.state.orders {
		orderID = id.String()
	}
	handler.state.mu.Unlock()

	resp := postJSON(t, server.URL+"/admin/orders/"+orderID+"/state", `{"state":"completed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	again := postJSON(t, server.URL+"/admin/orders/"+orderID+"/state", `{"state":"failed"}`)
	assert.Equal(t, http.StatusConflict, again.StatusCode)

	features, err := p.GetPaidFeatures(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, features.Has("premium"))
}

func TestCheckoutStoreFailureMarksOrderFailed(t *testing.T) {
	handler, server := newStub(t, Options{})
	store := payments.NewSandboxStore(payments.StoreProduct{ProductIdentifier: "com.app.year"})
	store.FailPurchases("com.app.year", 2)
	p := newPayments(server, store)

	_, err := p.PurchaseAndWait(context.Background(), payments.ShowcaseProduct{Ident: "premium", ProductIdentifier: "com.app.year"}, payments.StringUser("c"))
	require.Error(t, err)

	handler.state.mu.Lock()
	defer handler.state.mu.Unlock()
	require.Len(t, handler.state.orders, 1)
	for _, order := range handler.state.orders {
		assert.Equal(t, payments.StateFailed, order.State)
		assert.Equal(t, payments.StoreError(2).Code(), order.ErrorCode)
	}
}

func TestUnknownOrderIsNotFound(t *testing.T) {
	_, server := newStub(t, Options{})
	resp := postJSON(t, server.URL+"/v2/checkout/get", `{"orderId":"6b7c0d2e-3b1f-4b8a-9a51-0d2f0f3c2a11"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutShowcaseValidates(t *testing.T) {
	_, server := newStub(t, Options{})

	client := &http.Client{}
	req, err := http.NewRequest(http.MethodPut, server.URL+"/admin/showcase", strings.NewReader(`{"pricePoints":[{"ident":""}]}`))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCleanupDropsExpiredState(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	handler, server := newStub(t, Options{Clock: clock})
	tracker := newTracker(server.URL+"/events", nil)
	tracker.Track("old", event.Properties{})
	require.NoError(t, tracker.Flush(context.Background()))

	mu.Lock()
	current = current.Add(2 * time.Hour)
	mu.Unlock()

	result := handler.Cleanup(time.Hour)
	assert.Equal(t, 1, result.DeletedBatches)
	assert.Equal(t, 0, handler.state.batchCount())
}

func TestSanitizeEventString(t *testing.T) {
	assert.Equal(t, "<redacted>", sanitizeEventString("abc", "api_key"))
	assert.Equal(t, "mail <email> now", sanitizeEventString("mail me@example.com now", "note"))
	assert.Equal(t, "card <card-number>", sanitizeEventString("card 4111 1111 1111 1111", "note"))
	assert.Equal(t, "auth <token>", sanitizeEventString("auth Bearer abcdefghijkl", ""))
}

func TestHealthz(t *testing.T) {
	_, server := newStub(t, Options{Settlement: "MANUAL"})
	var health map[string]any
	getJSON(t, server.URL+"/healthz", &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, SettlementManual, health["settlement"])
}
