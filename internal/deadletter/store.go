package deadletter

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("dead-letter store not configured")

type Store interface {
	StoreBatch(ctx context.Context, objectKey string, payload []byte) error
	LoadBatch(ctx context.Context, objectKey string) ([]byte, error)
	DeleteObject(ctx context.Context, objectKey string) error
	// ListBatches returns object keys under prefix in lexical order.
	ListBatches(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

type LifecycleConfigurer interface {
	EnsureLifecyclePolicy(ctx context.Context, expirationDays int, prefixes []string) error
}

type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) StoreBatch(_ context.Context, _ string, _ []byte) error {
	return ErrNotConfigured
}

func (s *NoopStore) LoadBatch(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrNotConfigured
}

func (s *NoopStore) DeleteObject(_ context.Context, _ string) error {
	return ErrNotConfigured
}

func (s *NoopStore) ListBatches(_ context.Context, _ string) ([]string, error) {
	return nil, ErrNotConfigured
}

func (s *NoopStore) Close() error {
	return nil
}

func (s *NoopStore) EnsureLifecyclePolicy(_ context.Context, _ int, _ []string) error {
	return ErrNotConfigured
}
