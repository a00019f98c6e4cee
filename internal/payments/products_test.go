package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualRequester keeps the callbacks so tests decide when and how they fire.
type manualRequester struct {
	mu        sync.Mutex
	callbacks []ProductCallback
}

func (m *manualRequester) RequestProducts(_ []string, callback ProductCallback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, callback)
	m.mu.Unlock()
}

func (m *manualRequester) callback(t *testing.T, i int) ProductCallback {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(t, len(m.callbacks), i)
	return m.callbacks[i]
}

type collected struct {
	mu      sync.Mutex
	results []error
	lists   [][]Product
}

func (c *collected) completion(products []Product, err error) {
	c.mu.Lock()
	c.results = append(c.results, err)
	c.lists = append(c.lists, products)
	c.mu.Unlock()
}

func (c *collected) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func TestProductsDeliveredWithPricePoints(t *testing.T) {
	requester := &manualRequester{}
	svc := NewAppstoreProductService(requester, time.Minute, nil)
	pricePoints := GroupPricePoints([]PricePoint{
		{Ident: "yearly", AppStoreID: "com.app.year"},
		{Ident: "yearly-intro", AppStoreID: "com.app.year", UseIntroOffer: true},
	})
	var got collected

	svc.RetrieveProducts([]string{"com.app.year", "com.app.week"}, pricePoints, got.completion)
	assert.Equal(t, 1, svc.Pending())

	requester.callback(t, 0).ProductsReceived([]StoreProduct{
		{ProductIdentifier: "com.app.year", Price: "29.99"},
		{ProductIdentifier: "com.app.week", Price: "1.99"},
	})

	require.Equal(t, 1, got.count())
	require.NoError(t, got.results[0])
	products := got.lists[0]
	require.Len(t, products, 3)
	assert.Equal(t, "yearly", products[0].PricePoint.Ident)
	assert.Equal(t, ShowcaseProduct{Ident: "yearly-intro", ProductIdentifier: "com.app.year"}, products[1].Showcase())
	assert.Nil(t, products[2].PricePoint)
	assert.Equal(t, 0, svc.Pending())
}

func TestProductStoreErrorDeliveredOnce(t *testing.T) {
	requester := &manualRequester{}
	svc := NewAppstoreProductService(requester, time.Minute, nil)
	var got collected

	svc.RetrieveProducts([]string{"x"}, nil, got.completion)
	cb := requester.callback(t, 0)
	cb.ProductsFailed(5)
	cb.ProductsReceived(nil)

	require.Equal(t, 1, got.count())
	var paymentsErr *Error
	require.ErrorAs(t, got.results[0], &paymentsErr)
	assert.Equal(t, KindStore, paymentsErr.Kind)
	assert.Equal(t, 5, paymentsErr.StoreCode)
}

func TestProductTimeoutWinsOverLateCallback(t *testing.T) {
	requester := &manualRequester{}
	svc := NewAppstoreProductService(requester, 20*time.Millisecond, nil)
	var got collected

	svc.RetrieveProducts([]string{"x"}, nil, got.completion)

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)
	requester.callback(t, 0).ProductsReceived([]StoreProduct{{ProductIdentifier: "x"}})
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, 1, got.count())
	assert.ErrorIs(t, got.results[0], ErrTimedOut)
	assert.Equal(t, 0, svc.Pending())
}

func TestProductsBlockingCancelled(t *testing.T) {
	svc := NewAppstoreProductService(&manualRequester{}, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Products(ctx, []string{"x"}, nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, svc.Pending())
}

func TestSandboxStoreServesCatalog(t *testing.T) {
	store := NewSandboxStore(StoreProduct{ProductIdentifier: "a"}, StoreProduct{ProductIdentifier: "b"})
	svc := NewAppstoreProductService(store, time.Second, nil)

	products, err := svc.Products(context.Background(), []string{"a", "missing"}, nil)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "a", products[0].ProductIdentifier)
}
