package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisProducer struct {
	client          *redis.Client
	batchStreamName string
	orderStreamName string
	maxLen          int64
	ensureMu        sync.Mutex
	streamsEnsured  bool
}

func NewRedisProducer(addr, batchStreamName, orderStreamName string) (*RedisProducer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisProducer{
		client:          client,
		batchStreamName: batchStreamName,
		orderStreamName: orderStreamName,
		maxLen:          10000,
	}, nil
}

func (p *RedisProducer) EnqueueBatchJob(ctx context.Context, job BatchJob) error {
	if err := p.add(ctx, p.batchStreamName, job); err != nil {
		return fmt.Errorf("enqueue batch job: %w", err)
	}
	return nil
}

func (p *RedisProducer) EnqueueOrderJob(ctx context.Context, job OrderJob) error {
	if err := p.add(ctx, p.orderStreamName, job); err != nil {
		return fmt.Errorf("enqueue order job: %w", err)
	}
	return nil
}

func (p *RedisProducer) Close() error {
	return p.client.Close()
}

func (p *RedisProducer) add(ctx context.Context, stream string, job any) error {
	if err := p.ensureStreams(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"payload": string(payload),
		},
	}).Err()
}

func (p *RedisProducer) ensureStreams(ctx context.Context) error {
	p.ensureMu.Lock()
	if p.streamsEnsured {
		p.ensureMu.Unlock()
		return nil
	}
	p.ensureMu.Unlock()

	if err := p.ensureStream(ctx, p.batchStreamName); err != nil {
		return fmt.Errorf("ensure batch stream: %w", err)
	}
	if err := p.ensureStream(ctx, p.orderStreamName); err != nil {
		return fmt.Errorf("ensure order stream: %w", err)
	}

	p.ensureMu.Lock()
	p.streamsEnsured = true
	p.ensureMu.Unlock()
	return nil
}

func (p *RedisProducer) ensureStream(ctx context.Context, streamName string) error {
	keyType, err := p.client.Type(ctx, streamName).Result()
	if err != nil {
		return err
	}

	switch keyType {
	case "none", "stream":
		return nil
	default:
		return fmt.Errorf("unsupported redis key type=%s for stream %s", keyType, streamName)
	}
}

type StreamStats struct {
	BatchStreamDepth int64 `json:"batchStreamDepth"`
	OrderStreamDepth int64 `json:"orderStreamDepth"`
}

func (p *RedisProducer) Stats(ctx context.Context) (StreamStats, error) {
	batchDepth, err := p.client.XLen(ctx, p.batchStreamName).Result()
	if err != nil {
		return StreamStats{}, fmt.Errorf("batch stream depth: %w", err)
	}
	orderDepth, err := p.client.XLen(ctx, p.orderStreamName).Result()
	if err != nil {
		return StreamStats{}, fmt.Errorf("order stream depth: %w", err)
	}
	return StreamStats{BatchStreamDepth: batchDepth, OrderStreamDepth: orderDepth}, nil
}
