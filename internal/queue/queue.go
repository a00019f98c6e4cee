package queue

import "context"

// BatchJob announces an event batch accepted by the stub ingest endpoint.
type BatchJob struct {
	BatchID    string   `json:"batchId"`
	UploadTS   int64    `json:"uploadTs"`
	EventCount int      `json:"eventCount"`
	EventTypes []string `json:"eventTypes"`
	SDKName    string   `json:"sdkName"`
	SDKVersion string   `json:"sdkVersion"`
}

// OrderJob announces a checkout order reaching a terminal state.
type OrderJob struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Ident      string `json:"ident"`
	State      string `json:"state"`
	TraceID    string `json:"traceId"`
}

type Producer interface {
	EnqueueBatchJob(ctx context.Context, job BatchJob) error
	EnqueueOrderJob(ctx context.Context, job OrderJob) error
	Close() error
}

type NoopProducer struct{}

func NewNoopProducer() *NoopProducer {
	return &NoopProducer{}
}

func (p *NoopProducer) EnqueueBatchJob(_ context.Context, _ BatchJob) error {
	return nil
}

func (p *NoopProducer) EnqueueOrderJob(_ context.Context, _ OrderJob) error {
	return nil
}

func (p *NoopProducer) Close() error {
	return nil
}
