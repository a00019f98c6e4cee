package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/logging"
	"paltabrain/sdk/internal/metrics"
)

// PurchaseQueue is the platform purchase API.
type PurchaseQueue interface {
	Purchase(ctx context.Context, product ShowcaseProduct, orderID uuid.UUID) (Transaction, error)
	// Close finishes the platform transaction so the store stops redelivering it.
	Close(originalTransactionID string)
}

// ReceiptProvider returns nil when no receipt is available.
type ReceiptProvider interface {
	ReceiptData() []byte
}

// backendLogTimeout bounds each backend log call. Log calls are detached
// from the flow's context and never delay a step.
const (
	backendLogTimeout = 5 * time.Second
	backendLogBuffer  = 16
)

type FlowState int

const (
	Idle FlowState = iota
	Started
	Purchasing
	CompletingCheckout
	PollingCheckout
	FetchingFeatures
	Succeeded
	Failed
)

func (s FlowState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case Purchasing:
		return "purchasing"
	case CompletingCheckout:
		return "completing_checkout"
	case PollingCheckout:
		return "polling_checkout"
	case FetchingFeatures:
		return "fetching_features"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s FlowState) Terminal() bool {
	return s == Succeeded || s == Failed
}

type FlowDeps struct {
	Checkout  CheckoutService
	Features  FeaturesService
	Purchases PurchaseQueue
	Receipts  ReceiptProvider
	Logger    logrus.FieldLogger
	// Logf receives every step and error line, in addition to Logger.
	Logf func(message string)
	// Observer is called after every state transition.
	Observer func(from, to FlowState)
}

// CheckoutFlow drives a single purchase attempt: start order, platform
// purchase, receipt submission, order poll and feature fetch.
type CheckoutFlow struct {
	env     Environment
	userID  UserID
	product ShowcaseProduct
	traceID uuid.UUID
	deps    FlowDeps
	log     logrus.FieldLogger

	mu         sync.Mutex
	inProgress bool
	state      FlowState

	backendLogs chan backendLog
	logsDone    chan struct{}

	// owned by the running goroutine
	orderID  uuid.UUID
	tx       Transaction
	features PaidFeatures
	err      *Error
}

func NewCheckoutFlow(env Environment, userID UserID, product ShowcaseProduct, deps FlowDeps) *CheckoutFlow {
	traceID := uuid.New()
	return &CheckoutFlow{
		env:     env,
		userID:  userID,
		product: product,
		traceID: traceID,
		deps:        deps,
		backendLogs: make(chan backendLog, backendLogBuffer),
		logsDone:    make(chan struct{}),
		log: logging.OrStandard(deps.Logger).WithFields(logrus.Fields{
			"component": "checkout_flow",
			"trace_id":  traceID.String(),
		}),
	}
}

func (f *CheckoutFlow) TraceID() uuid.UUID { return f.traceID }

func (f *CheckoutFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start runs the flow in the background and calls completion exactly once.
// Calls after the first are ignored.
func (f *CheckoutFlow) Start(ctx context.Context, completion func(PaidFeatures, error)) {
	f.mu.Lock()
	if f.inProgress {
		f.mu.Unlock()
		f.log.Debug("checkout already in progress")
		return
	}
	f.inProgress = true
	f.mu.Unlock()

	go f.dispatchLogs(ctx)
	go func() {
		features, err := f.run(ctx)
		close(f.backendLogs)
		if completion != nil {
			completion(features, err)
		}
	}()
}

func (f *CheckoutFlow) run(ctx context.Context) (PaidFeatures, error) {
	f.transition(Started)
	state := Started
	for !state.Terminal() {
		state = f.step(ctx, state)
		f.transition(state)
	}

	if state == Failed {
		metrics.RecordCheckout("failed")
		f.log.WithError(f.err).WithField("order_id", f.orderID.String()).Warn("checkout flow failed")
		return PaidFeatures{}, f.err
	}
	metrics.RecordCheckout("succeeded")
	f.log.WithField("order_id", f.orderID.String()).Info("checkout flow succeeded")
	return f.features, nil
}

func (f *CheckoutFlow) transition(to FlowState) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	if f.deps.Observer != nil {
		f.deps.Observer(from, to)
	}
}

func (f *CheckoutFlow) step(ctx context.Context, state FlowState) FlowState {
	switch state {
	case Started:
		return f.startCheckout(ctx)
	case Purchasing:
		return f.purchase(ctx)
	case CompletingCheckout:
		return f.completeCheckout(ctx)
	case PollingCheckout:
		return f.getCheckout(ctx)
	case FetchingFeatures:
		return f.fetchFeatures(ctx)
	default:
		return f.fail(ErrUnknown)
	}
}

func (f *CheckoutFlow) startCheckout(ctx context.Context) FlowState {
	f.logStep("start_checkout", logrus.Fields{
		"productId": f.product.ProductIdentifier,
		"userId":    f.userID.String(),
	})

	orderID, err := f.deps.Checkout.StartCheckout(ctx, f.userID, f.product.Ident, f.traceID)
	if err != nil {
		paymentsErr := AsError(err)
		f.logError(paymentsErr, "start_checkout_failed")
		return f.fail(paymentsErr)
	}
	f.orderID = orderID
	return Purchasing
}

func (f *CheckoutFlow) purchase(ctx context.Context) FlowState {
	f.logStep("appstore_purchase_started", logrus.Fields{
		"productId": f.product.ProductIdentifier,
		"userId":    f.userID.String(),
	})

	tx, err := f.deps.Purchases.Purchase(ctx, f.product, f.orderID)
	if err != nil {
		return f.failPurchase(ctx, purchaseError(err))
	}
	f.tx = tx
	return CompletingCheckout
}

func (f *CheckoutFlow) completeCheckout(ctx context.Context) FlowState {
	f.logStep("retrieving_receipt", nil)

	var receipt []byte
	if f.deps.Receipts != nil {
		receipt = f.deps.Receipts.ReceiptData()
	}
	if receipt == nil {
		return f.failPurchase(ctx, ErrNoReceipt)
	}

	f.logStep("receipt_retrieved", nil)

	err := f.deps.Checkout.CompleteCheckout(ctx, f.orderID, receipt, f.tx, f.traceID)
	f.deps.Purchases.Close(f.tx.OriginalID)
	if err != nil {
		f.logError(AsError(err), "checkout_complete_failed")
		return f.fail(ErrFlowNotCompleted)
	}
	return PollingCheckout
}

func (f *CheckoutFlow) getCheckout(ctx context.Context) FlowState {
	f.logStep("get_checkout_state", nil)

	state, err := f.deps.Checkout.GetCheckout(ctx, f.orderID, f.traceID)
	if err != nil {
		f.logError(AsError(err), "get_checkout_state_failed")
		return f.fail(ErrFlowNotCompleted)
	}

	f.local("received checkout state: "+string(state), logrus.Fields{"checkout_state": state})
	switch state {
	case StateCompleted:
		f.logStep("get_checkout_success", nil)
		return FetchingFeatures
	case StateProcessing:
		f.logError(ErrFlowNotCompleted, "get_checkout_processing")
		return f.fail(ErrFlowNotCompleted)
	default:
		failed := FlowFailed(f.orderID)
		f.logError(failed, "get_checkout_failed")
		return f.fail(failed)
	}
}

func (f *CheckoutFlow) fetchFeatures(ctx context.Context) FlowState {
	features, err := f.deps.Features.GetFeatures(ctx, f.userID, f.traceID)
	if err != nil {
		f.logError(AsError(err), "get_features_failed")
		return f.fail(ErrFlowNotCompleted)
	}
	f.features = features
	return Succeeded
}

// failPurchase reports the failure to the backend before failing the flow.
// The report's own outcome does not change the result.
func (f *CheckoutFlow) failPurchase(ctx context.Context, cause *Error) FlowState {
	f.logError(cause, "appstore_failed")
	if err := f.deps.Checkout.FailCheckout(ctx, f.orderID, cause, f.traceID); err != nil {
		f.log.WithError(err).Debug("fail checkout report failed")
	}
	return f.fail(cause)
}

func (f *CheckoutFlow) fail(err *Error) FlowState {
	f.err = err
	return Failed
}

func (f *CheckoutFlow) local(message string, fields logrus.Fields) {
	if f.deps.Logf != nil {
		f.deps.Logf(message)
	}
	f.log.WithFields(fields).Info(message)
}

func (f *CheckoutFlow) logStep(step string, fields logrus.Fields) {
	f.local(step, fields)
	if f.env.IsProduction() {
		return
	}
	f.sendLog(backendLog{level: LevelInfo, name: step})
}

func (f *CheckoutFlow) logError(cause *Error, name string) {
	if f.deps.Logf != nil {
		f.deps.Logf(name + " Error: " + cause.Error())
	}
	f.log.WithError(cause).Warn(name)

	f.sendLog(backendLog{level: LevelError, name: name, data: map[string]any{"error": cause.Error()}})
}

type backendLog struct {
	level LogLevel
	name  string
	data  map[string]any
}

func (f *CheckoutFlow) sendLog(entry backendLog) {
	select {
	case f.backendLogs <- entry:
	default:
		f.log.WithField("event_name", entry.name).Debug("backend log buffer full, dropping entry")
	}
}

// dispatchLogs delivers backend log entries in order until the flow closes
// the channel.
func (f *CheckoutFlow) dispatchLogs(ctx context.Context) {
	defer close(f.logsDone)
	detached := context.WithoutCancel(ctx)
	for entry := range f.backendLogs {
		logCtx, cancel := context.WithTimeout(detached, backendLogTimeout)
		if err := f.deps.Checkout.Log(logCtx, entry.level, entry.name, entry.data, f.traceID); err != nil {
			f.log.WithError(err).WithField("event_name", entry.name).Debug("backend log failed")
		}
		cancel()
	}
}

func purchaseError(err error) *Error {
	var paymentsErr *Error
	if errors.As(err, &paymentsErr) {
		return paymentsErr
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}
