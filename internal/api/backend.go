package api

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"paltabrain/sdk/internal/analytics/event"
	"paltabrain/sdk/internal/payments"
)

var (
	errOrderNotFound     = errors.New("order not found")
	errOrderSettled      = errors.New("order already settled")
	errInvalidOrderState = errors.New("invalid order state")
)

const (
	SettlementInstant = "instant"
	SettlementManual  = "manual"
)

type Order struct {
	ID                    uuid.UUID              `json:"orderId"`
	CustomerID            string                 `json:"customerId"`
	Ident                 string                 `json:"ident"`
	State                 payments.CheckoutState `json:"state"`
	TraceID               string                 `json:"traceId"`
	TransactionID         string                 `json:"transactionId,omitempty"`
	OriginalTransactionID string                 `json:"originalTransactionId,omitempty"`
	ErrorCode             int                    `json:"errorCode,omitempty"`
	ErrorMessage          string                 `json:"errorMessage,omitempty"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
}

func (o Order) settled() bool {
	return o.State != payments.StateProcessing
}

type LogEntry struct {
	TraceID    string         `json:"traceId"`
	Level      string         `json:"level"`
	EventName  string         `json:"eventName"`
	Data       map[string]any `json:"data,omitempty"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

type ReceivedBatch struct {
	BatchID    string        `json:"batchId"`
	UploadTS   int64         `json:"uploadTs"`
	SDKName    string        `json:"sdkName"`
	SDKVersion string        `json:"sdkVersion"`
	ReceivedAt time.Time     `json:"receivedAt"`
	Events     []event.Event `json:"events"`
}

type CleanupResult struct {
	DeletedBatches int `json:"deletedBatches"`
	DeletedOrders  int `json:"deletedOrders"`
	DeletedLogs    int `json:"deletedLogs"`
}

// backend is the in-memory state behind the stub endpoints.
type backend struct {
	mu          sync.Mutex
	now         func() time.Time
	batches     []ReceivedBatch
	orders      map[uuid.UUID]*Order
	logs        []LogEntry
	features    map[string][]payments.Feature
	restores    map[string]int
	pricePoints []payments.PricePoint
}

func newBackend(now func() time.Time, pricePoints []payments.PricePoint) *backend {
	if now == nil {
		now = time.Now
	}
	return &backend{
		now:         now,
		orders:      make(map[uuid.UUID]*Order),
		features:    make(map[string][]payments.Feature),
		restores:    make(map[string]int),
		pricePoints: pricePoints,
	}
}

func (b *backend) addBatch(batch ReceivedBatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch.ReceivedAt = b.now().UTC()
	b.batches = append(b.batches, batch)
}

// events returns every received event in arrival order, optionally filtered by type.
func (b *backend) events(eventType string) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var events []event.Event
	for _, batch := range b.batches {
		for _, e := range batch.Events {
			if eventType != "" && e.EventType != eventType {
				continue
			}
			events = append(events, e)
		}
	}
	return events
}

func (b *backend) batchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *backend) createOrder(customerID, ident, traceID string) Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now().UTC()
	order := &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Ident:      ident,
		State:      payments.StateProcessing,
		TraceID:    traceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b.orders[order.ID] = order
	return *order
}

func (b *backend) order(id uuid.UUID) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[id]
	if !ok {
		return Order{}, errOrderNotFound
	}
	return *order, nil
}

// update applies fn to a processing order. It returns the updated order.
func (b *backend) update(id uuid.UUID, fn func(*Order)) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[id]
	if !ok {
		return Order{}, errOrderNotFound
	}
	if order.settled() {
		return *order, errOrderSettled
	}
	fn(order)
	order.UpdatedAt = b.now().UTC()
	if order.State == payments.StateCompleted {
		b.grantLocked(order)
	}
	return *order, nil
}

func (b *backend) setState(id uuid.UUID, state payments.CheckoutState) (Order, error) {
	if !state.Valid() || state == payments.StateProcessing {
		return Order{}, errInvalidOrderState
	}
	return b.update(id, func(o *Order) { o.State = state })
}

func (b *backend) grantLocked(order *Order) {
	now := b.now().UTC()
	features := b.features[order.CustomerID]
	for i := range features {
		if features[i].Name == order.Ident {
			features[i].Quantity++
			features[i].LastTransactionType = "renewal"
			return
		}
	}
	b.features[order.CustomerID] = append(features, payments.Feature{
		Name:                order.Ident,
		Quantity:            1,
		ActualFrom:          now,
		TransactionType:     "purchase",
		LastTransactionType: "purchase",
	})
}

func (b *backend) customerFeatures(customerID string) []payments.Feature {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]payments.Feature{}, b.features[customerID]...)
}

func (b *backend) recordRestore(customerID string) {
	b.mu.Lock()
	b.restores[customerID]++
	b.mu.Unlock()
}

func (b *backend) addLog(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry.ReceivedAt = b.now().UTC()
	b.logs = append(b.logs, entry)
}

func (b *backend) logEntries(traceID string) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]LogEntry, 0, len(b.logs))
	for _, entry := range b.logs {
		if traceID != "" && entry.TraceID != traceID {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func (b *backend) showcase() []payments.PricePoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	pricePoints := append([]payments.PricePoint{}, b.pricePoints...)
	sort.SliceStable(pricePoints, func(i, j int) bool {
		return pricePoints[i].Priority < pricePoints[j].Priority
	})
	return pricePoints
}

func (b *backend) setShowcase(pricePoints []payments.PricePoint) {
	b.mu.Lock()
	b.pricePoints = pricePoints
	b.mu.Unlock()
}

// cleanup drops batches, settled orders and logs older than retention.
func (b *backend) cleanup(retention time.Duration) CleanupResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().UTC().Add(-retention)
	result := CleanupResult{}

	keptBatches := b.batches[:0]
	for _, batch := range b.batches {
		if batch.ReceivedAt.Before(cutoff) {
			result.DeletedBatches++
			continue
		}
		keptBatches = append(keptBatches, batch)
	}
	b.batches = keptBatches

	for id, order := range b.orders {
		if order.settled() && order.UpdatedAt.Before(cutoff) {
			delete(b.orders, id)
			result.DeletedOrders++
		}
	}

	keptLogs := b.logs[:0]
	for _, entry := range b.logs {
		if entry.ReceivedAt.Before(cutoff) {
			result.DeletedLogs++
			continue
		}
		keptLogs = append(keptLogs, entry)
	}
	b.logs = keptLogs
	return result
}
