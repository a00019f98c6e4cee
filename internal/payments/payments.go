package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/logging"
	"paltabrain/sdk/internal/transport"
)

type Deps struct {
	Client    transport.Client
	Purchases PurchaseQueue
	Products  ProductRequester
	Receipts  ReceiptProvider
	Logger    logrus.FieldLogger
	// ProductTimeout defaults to DefaultProductTimeout.
	ProductTimeout time.Duration
	Logf           func(message string)
}

// Payments is the host-facing entry point of the payments side of the SDK.
type Payments struct {
	env       Environment
	checkout  CheckoutService
	features  FeaturesService
	showcase  ShowcaseService
	products  *AppstoreProductService
	purchases PurchaseQueue
	receipts  ReceiptProvider
	logf      func(string)
	log       logrus.FieldLogger
}

func New(env Environment, deps Deps) *Payments {
	log := logging.OrStandard(deps.Logger)
	return &Payments{
		env:       env,
		checkout:  NewCheckoutService(env, deps.Client),
		features:  NewFeaturesService(env, deps.Client),
		showcase:  NewShowcaseService(env, deps.Client),
		products:  NewAppstoreProductService(deps.Products, deps.ProductTimeout, log),
		purchases: deps.Purchases,
		receipts:  deps.Receipts,
		logf:      deps.Logf,
		log:       log.WithField("component", "payments"),
	}
}

func (p *Payments) Environment() Environment { return p.env }

func (p *Payments) GetPaidFeatures(ctx context.Context, userID UserID) (PaidFeatures, error) {
	return p.features.GetFeatures(ctx, userID, uuid.New())
}

// GetProducts resolves the showcase for userID into store products.
func (p *Payments) GetProducts(ctx context.Context, userID UserID) ([]Product, error) {
	pricePoints, err := p.showcase.GetPricePoints(ctx, userID, uuid.New())
	if err != nil {
		return nil, err
	}
	ids := productIDs(pricePoints)
	if len(ids) == 0 {
		return nil, nil
	}
	return p.products.Products(ctx, ids, GroupPricePoints(pricePoints))
}

// Purchase starts a new checkout flow for product and returns it.
func (p *Payments) Purchase(ctx context.Context, product ShowcaseProduct, userID UserID, completion func(PaidFeatures, error), observer func(from, to FlowState)) *CheckoutFlow {
	flow := NewCheckoutFlow(p.env, userID, product, FlowDeps{
		Checkout:  p.checkout,
		Features:  p.features,
		Purchases: p.purchases,
		Receipts:  p.receipts,
		Logger:    p.log,
		Logf:      p.logf,
		Observer:  observer,
	})
	flow.Start(ctx, completion)
	return flow
}

// PurchaseAndWait runs a checkout flow and blocks until it finishes.
func (p *Payments) PurchaseAndWait(ctx context.Context, product ShowcaseProduct, userID UserID) (PaidFeatures, error) {
	type result struct {
		features PaidFeatures
		err      error
	}
	done := make(chan result, 1)
	p.Purchase(ctx, product, userID, func(features PaidFeatures, err error) {
		done <- result{features: features, err: err}
	}, nil)
	res := <-done
	return res.features, res.err
}

// RestorePurchases submits the current receipt and returns the refreshed features.
func (p *Payments) RestorePurchases(ctx context.Context, userID UserID) (PaidFeatures, error) {
	var receipt []byte
	if p.receipts != nil {
		receipt = p.receipts.ReceiptData()
	}
	if receipt == nil {
		return PaidFeatures{}, ErrNoReceipt
	}

	traceID := uuid.New()
	if err := p.checkout.RestorePurchases(ctx, userID, receipt, traceID); err != nil {
		p.log.WithError(err).WithField("trace_id", traceID.String()).Warn("restore purchases failed")
		return PaidFeatures{}, err
	}
	return p.features.GetFeatures(ctx, userID, traceID)
}

func (p *Payments) PendingProductRequests() int {
	return p.products.Pending()
}
