package payments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/logging"
	"paltabrain/sdk/internal/metrics"
)

const DefaultProductTimeout = 10 * time.Second

// ProductCallback receives the outcome of a platform product query. The
// platform may call it late, more than once, or not at all.
type ProductCallback interface {
	ProductsReceived(products []StoreProduct)
	ProductsFailed(code int)
}

// ProductRequester starts a single-shot platform product query.
type ProductRequester interface {
	RequestProducts(ids []string, callback ProductCallback)
}

type requestState int

const (
	requestPending requestState = iota
	requestCompleted
)

type productRequest struct {
	id          uuid.UUID
	service     *AppstoreProductService
	pricePoints map[string][]PricePoint
	completion  func([]Product, error)
	timer       *time.Timer
}

func (r *productRequest) ProductsReceived(products []StoreProduct) {
	r.service.complete(r.id, "success", mapProducts(products, r.pricePoints), nil)
}

func (r *productRequest) ProductsFailed(code int) {
	r.service.complete(r.id, "store_error", nil, StoreError(code))
}

type pendingEntry struct {
	state   requestState
	request *productRequest
}

// AppstoreProductService keeps every in-flight product query registered until
// exactly one of success, store error or timeout has been delivered.
type AppstoreProductService struct {
	requester ProductRequester
	timeout   time.Duration
	log       logrus.FieldLogger

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingEntry
}

func NewAppstoreProductService(requester ProductRequester, timeout time.Duration, logger logrus.FieldLogger) *AppstoreProductService {
	if timeout <= 0 {
		timeout = DefaultProductTimeout
	}
	return &AppstoreProductService{
		requester: requester,
		timeout:   timeout,
		log:       logging.OrStandard(logger).WithField("component", "product_service"),
		pending:   make(map[uuid.UUID]*pendingEntry),
	}
}

func (s *AppstoreProductService) RetrieveProducts(ids []string, pricePoints map[string][]PricePoint, completion func([]Product, error)) uuid.UUID {
	req := &productRequest{
		id:          uuid.New(),
		service:     s,
		pricePoints: pricePoints,
		completion:  completion,
	}

	s.mu.Lock()
	s.pending[req.id] = &pendingEntry{state: requestPending, request: req}
	req.timer = time.AfterFunc(s.timeout, func() {
		s.complete(req.id, "timeout", nil, ErrTimedOut)
	})
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"request_id": req.id.String(), "products": len(ids)}).Debug("product request started")
	s.requester.RequestProducts(ids, req)
	return req.id
}

// Products is the blocking form of RetrieveProducts. Cancelling ctx delivers KindCancelled.
func (s *AppstoreProductService) Products(ctx context.Context, ids []string, pricePoints map[string][]PricePoint) ([]Product, error) {
	type result struct {
		products []Product
		err      error
	}
	done := make(chan result, 1)
	id := s.RetrieveProducts(ids, pricePoints, func(products []Product, err error) {
		done <- result{products: products, err: err}
	})
	stop := context.AfterFunc(ctx, func() {
		s.complete(id, "cancelled", nil, &Error{Kind: KindCancelled, Err: ctx.Err()})
	})
	defer stop()

	res := <-done
	return res.products, res.err
}

// Pending returns the number of requests that have not completed yet.
func (s *AppstoreProductService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *AppstoreProductService) complete(id uuid.UUID, result string, products []Product, err error) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok || entry.state == requestCompleted {
		s.mu.Unlock()
		return
	}
	entry.state = requestCompleted
	delete(s.pending, id)
	entry.request.timer.Stop()
	s.mu.Unlock()

	metrics.RecordProductRequest(result)
	if err != nil {
		s.log.WithError(err).WithField("request_id", id.String()).Warn("product request failed")
	}
	if entry.request.completion != nil {
		entry.request.completion(products, err)
	}
}

// GroupPricePoints indexes price points by store product id.
func GroupPricePoints(pricePoints []PricePoint) map[string][]PricePoint {
	grouped := make(map[string][]PricePoint, len(pricePoints))
	for _, pp := range pricePoints {
		grouped[pp.AppStoreID] = append(grouped[pp.AppStoreID], pp)
	}
	return grouped
}

// mapProducts yields one Product per price point offered for a store product,
// or a bare Product when none is.
func mapProducts(products []StoreProduct, pricePoints map[string][]PricePoint) []Product {
	mapped := make([]Product, 0, len(products))
	for _, sp := range products {
		points := pricePoints[sp.ProductIdentifier]
		if len(points) == 0 {
			mapped = append(mapped, Product{StoreProduct: sp})
			continue
		}
		for i := range points {
			pp := points[i]
			mapped = append(mapped, Product{StoreProduct: sp, PricePoint: &pp})
		}
	}
	return mapped
}
