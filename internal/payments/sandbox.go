package payments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SandboxStore is an in-process purchase store used by the CLI and tests.
// It serves as both the PurchaseQueue and the ProductRequester.
type SandboxStore struct {
	mu        sync.Mutex
	catalog   map[string]StoreProduct
	failCodes map[string]int
	delay     time.Duration
	open      map[string]Transaction
	closed    []string
}

func NewSandboxStore(products ...StoreProduct) *SandboxStore {
	s := &SandboxStore{
		catalog:   make(map[string]StoreProduct, len(products)),
		failCodes: map[string]int{},
		open:      map[string]Transaction{},
	}
	for _, p := range products {
		s.catalog[p.ProductIdentifier] = p
	}
	return s
}

// FailPurchases makes purchases of productID fail with the given store code.
func (s *SandboxStore) FailPurchases(productID string, code int) {
	s.mu.Lock()
	s.failCodes[productID] = code
	s.mu.Unlock()
}

// SetDelay delays product query callbacks.
func (s *SandboxStore) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *SandboxStore) Purchase(ctx context.Context, product ShowcaseProduct, orderID uuid.UUID) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, &Error{Kind: KindCancelled, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.failCodes[product.ProductIdentifier]; ok {
		return Transaction{}, StoreError(code)
	}
	if _, ok := s.catalog[product.ProductIdentifier]; !ok {
		return Transaction{}, StoreError(0)
	}

	tx := Transaction{ID: uuid.NewString(), OriginalID: orderID.String()}
	s.open[tx.OriginalID] = tx
	return tx, nil
}

func (s *SandboxStore) Close(originalTransactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, originalTransactionID)
	s.closed = append(s.closed, originalTransactionID)
}

// Closed returns the original transaction ids passed to Close, in call order.
func (s *SandboxStore) Closed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

func (s *SandboxStore) OpenTransactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *SandboxStore) RequestProducts(ids []string, callback ProductCallback) {
	s.mu.Lock()
	delay := s.delay
	found := make([]StoreProduct, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.catalog[id]; ok {
			found = append(found, p)
		}
	}
	s.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		callback.ProductsReceived(found)
	}()
}
