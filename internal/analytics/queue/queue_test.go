package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paltabrain/sdk/internal/analytics/event"
	"paltabrain/sdk/internal/kv"
)

type recordingSender struct {
	mu      sync.Mutex
	batches [][]event.Event
	errs    []error
}

func (s *recordingSender) Send(_ context.Context, events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]event.Event(nil), events...))
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *recordingSender) Batches() [][]event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]event.Event(nil), s.batches...)
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

func ev(name string) event.Event {
	return event.Event{EventType: name, Timezone: "GMT+0"}
}

func types(events []event.Event) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.EventType)
	}
	return names
}

func flushRequested(q *Queue) bool {
	select {
	case <-q.flushCh:
		return true
	default:
		return false
	}
}

func TestBelowThresholdDoesNotRequestFlush(t *testing.T) {
	q := NewQueue(kv.NewMemoryStore(), &recordingSender{}, WithConfig(Config{UploadThreshold: 3, MaxBatchSize: 2, MaxEvents: 10}))

	q.Add(ev("a"))
	q.Add(ev("b"))

	assert.False(t, flushRequested(q))
	assert.Equal(t, 2, q.Len())
}

func TestThresholdTriggersSingleBoundedFlush(t *testing.T) {
	sender := &recordingSender{}
	q := NewQueue(kv.NewMemoryStore(), sender, WithConfig(Config{UploadThreshold: 3, MaxBatchSize: 2, MaxEvents: 10}))

	q.Add(ev("a"))
	q.Add(ev("b"))
	q.Add(ev("c"))
	require.True(t, flushRequested(q))

	require.NoError(t, q.flush(context.Background(), false))

	batches := sender.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a", "b"}, types(batches[0]))
	assert.Equal(t, []string{"c"}, types(q.Events()))
}

func TestLiveEventRequestsFlush(t *testing.T) {
	q := NewQueue(kv.NewMemoryStore(), &recordingSender{}, WithConfig(Config{UploadThreshold: 50, MaxBatchSize: 10, MaxEvents: 100}))
	q.SetLiveEventTypes([]string{"purchase"})

	q.Add(ev("view"))
	assert.False(t, flushRequested(q))

	q.Add(ev("purchase"))
	assert.True(t, flushRequested(q))
}

func TestExcludedEventsAreDropped(t *testing.T) {
	q := NewQueue(kv.NewMemoryStore(), &recordingSender{})
	q.SetExcludedEventTypes([]string{"debug"})

	q.Add(ev("debug"))
	q.Add(ev("view"))

	assert.Equal(t, []string{"view"}, types(q.Events()))
}

func TestTransientFailureKeepsOrder(t *testing.T) {
	sender := &recordingSender{errs: []error{errors.New("offline")}}
	q := NewQueue(kv.NewMemoryStore(), sender, WithConfig(Config{UploadThreshold: 100, MaxBatchSize: 10, MaxEvents: 100}))

	q.Add(ev("e1"))
	q.Add(ev("e2"))
	q.Add(ev("e3"))

	require.Error(t, q.Flush(context.Background()))
	assert.Equal(t, []string{"e1", "e2", "e3"}, types(q.Events()))

	q.Add(ev("e4"))
	require.NoError(t, q.Flush(context.Background()))

	batches := sender.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, types(batches[1]))
	assert.Equal(t, 0, q.Len())
}

func TestManualFlushDrainsInBatches(t *testing.T) {
	sender := &recordingSender{}
	q := NewQueue(kv.NewMemoryStore(), sender, WithConfig(Config{UploadThreshold: 100, MaxBatchSize: 2, MaxEvents: 100}))
	for i := 0; i < 5; i++ {
		q.Add(ev(fmt.Sprintf("e%d", i)))
	}

	require.NoError(t, q.Flush(context.Background()))

	batches := sender.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"e0", "e1"}, types(batches[0]))
	assert.Equal(t, []string{"e4"}, types(batches[2]))
}

func TestRejectedBatchIsDroppedAndArchived(t *testing.T) {
	rejection := &RejectedError{StatusCode: 422, Err: errors.New("bad payload")}
	sender := &recordingSender{errs: []error{rejection}}
	archiver := &recordingArchiver{}
	q := NewQueue(kv.NewMemoryStore(), sender,
		WithConfig(Config{UploadThreshold: 100, MaxBatchSize: 2, MaxEvents: 100}),
		WithArchiver(archiver),
	)
	q.Add(ev("bad1"))
	q.Add(ev("bad2"))
	q.Add(ev("good"))

	require.NoError(t, q.Flush(context.Background()))

	assert.Equal(t, 0, q.Len())
	require.Len(t, archiver.batches, 1)
	assert.Equal(t, []string{"bad1", "bad2"}, types(archiver.batches[0]))
	assert.Contains(t, archiver.reasons[0], "status=422")
	assert.Len(t, sender.Batches(), 2)
}

func TestBufferDropsOldestBeyondMaxEvents(t *testing.T) {
	q := NewQueue(kv.NewMemoryStore(), &recordingSender{}, WithConfig(Config{UploadThreshold: 100, MaxBatchSize: 2, MaxEvents: 3}))
	for i := 0; i < 5; i++ {
		q.Add(ev(fmt.Sprintf("e%d", i)))
	}

	assert.Equal(t, []string{"e2", "e3", "e4"}, types(q.Events()))
}

func TestBufferIsPersistedAndRestored(t *testing.T) {
	store := kv.NewMemoryStore()
	first := NewQueue(store, &recordingSender{})
	first.Add(ev("a"))
	first.Add(ev("b"))

	second := NewQueue(store, &recordingSender{})
	require.NoError(t, second.Restore(context.Background()))
	second.Add(ev("c"))

	assert.Equal(t, []string{"a", "b", "c"}, types(second.Events()))
}

func TestNonFinitePropertyDoesNotBreakPersistence(t *testing.T) {
	store := kv.NewMemoryStore()
	first := NewQueue(store, &recordingSender{})
	first.Add(ev("a"))
	bad := ev("bad")
	bad.EventProperties = event.PropertiesOf(map[string]any{"ratio": math.NaN()})
	first.Add(bad)
	first.Add(ev("c"))

	second := NewQueue(store, &recordingSender{})
	require.NoError(t, second.Restore(context.Background()))

	restored := second.Events()
	assert.Equal(t, []string{"a", "bad", "c"}, types(restored))
	ratio, ok := restored[1].EventProperties.Get("ratio")
	require.True(t, ok)
	assert.True(t, ratio.IsNull())
}

type gatedSender struct {
	recordingSender
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSender) Send(ctx context.Context, events []event.Event) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.recordingSender.Send(ctx, events)
}

func TestFlushDuringThresholdFlushDrainsBuffer(t *testing.T) {
	sender := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	q := NewQueue(kv.NewMemoryStore(), sender, WithConfig(Config{UploadThreshold: 3, MaxBatchSize: 3, MaxEvents: 100}))
	for i := 0; i < 4; i++ {
		q.Add(ev(fmt.Sprintf("e%d", i)))
	}

	done := make(chan error, 1)
	go func() { done <- q.flush(context.Background(), false) }()
	<-sender.entered

	require.NoError(t, q.Flush(context.Background()))
	close(sender.release)
	require.NoError(t, <-done)

	assert.Equal(t, 0, q.Len())
	batches := sender.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"e3"}, types(batches[1]))
}

func TestConfigIsHotSwappable(t *testing.T) {
	q := NewQueue(kv.NewMemoryStore(), &recordingSender{}, WithConfig(Config{UploadThreshold: 10, MaxBatchSize: 10, MaxEvents: 10}))
	q.Add(ev("a"))
	assert.False(t, flushRequested(q))

	q.SetConfig(Config{UploadThreshold: 2, MaxBatchSize: 10, MaxEvents: 10, UploadInterval: time.Minute})
	q.Add(ev("b"))
	assert.True(t, flushRequested(q))
	assert.Equal(t, time.Minute, q.Config().UploadInterval)
}

func TestConfigNormalization(t *testing.T) {
	cfg := Config{UploadThreshold: 0, MaxBatchSize: 0, MaxEvents: 1}.normalized()
	assert.Equal(t, 1, cfg.UploadThreshold)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, 100, cfg.MaxEvents)
	assert.Equal(t, 30*time.Second, cfg.UploadInterval)
}

func TestRunFlushesOnIntervalAndDrainsOnCancel(t *testing.T) {
	sender := &recordingSender{}
	q := NewQueue(kv.NewMemoryStore(), sender,
		WithConfig(Config{UploadThreshold: 100, MaxBatchSize: 10, MaxEvents: 100, UploadInterval: 30 * time.Millisecond}),
		WithTickInterval(5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	q.Add(ev("timed"))
	require.Eventually(t, func() bool { return len(sender.Batches()) == 1 }, 2*time.Second, 5*time.Millisecond)

	q.SetConfig(Config{UploadThreshold: 100, MaxBatchSize: 10, MaxEvents: 100, UploadInterval: time.Hour})
	q.Add(ev("pending"))
	cancel()
	<-done

	batches := sender.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"pending"}, types(batches[1]))
}

func TestRunFlushesOnThreshold(t *testing.T) {
	sender := &recordingSender{}
	q := NewQueue(kv.NewMemoryStore(), sender,
		WithConfig(Config{UploadThreshold: 2, MaxBatchSize: 10, MaxEvents: 100, UploadInterval: time.Hour}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Run(ctx)

	q.Add(ev("a"))
	q.Add(ev("b"))

	require.Eventually(t, func() bool { return len(sender.Batches()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, types(sender.Batches()[0]))
}
