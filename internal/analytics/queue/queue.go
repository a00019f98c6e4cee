package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/analytics/event"
	"paltabrain/sdk/internal/kv"
	"paltabrain/sdk/internal/logging"
	"paltabrain/sdk/internal/metrics"
)

const StorageKey = "paltaBrainEvents"

// Archiver keeps batches the server rejected permanently.
type Archiver interface {
	ArchiveBatch(ctx context.Context, events []event.Event, reason string) error
}

type Queue struct {
	mu        sync.Mutex
	buffer    []event.Event
	inFlight  int
	flushing  bool
	drainNext bool
	lastFlush time.Time

	config   atomic.Pointer[Config]
	live     atomic.Pointer[map[string]struct{}]
	excluded atomic.Pointer[map[string]struct{}]

	store    kv.Store
	sender   Sender
	archiver Archiver
	flushCh  chan struct{}
	tick     time.Duration
	now      func() time.Time
	log      logrus.FieldLogger
}

type Option func(*Queue)

func WithConfig(cfg Config) Option {
	return func(q *Queue) { q.SetConfig(cfg) }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(q *Queue) { q.log = logger }
}

func WithArchiver(archiver Archiver) Option {
	return func(q *Queue) { q.archiver = archiver }
}

func WithTickInterval(tick time.Duration) Option {
	return func(q *Queue) { q.tick = tick }
}

func NewQueue(store kv.Store, sender Sender, opts ...Option) *Queue {
	q := &Queue{
		store:   store,
		sender:  sender,
		flushCh: make(chan struct{}, 1),
		tick:    time.Second,
		now:     time.Now,
	}
	q.SetConfig(DefaultConfig())
	q.SetLiveEventTypes(nil)
	q.SetExcludedEventTypes(nil)
	for _, opt := range opts {
		opt(q)
	}
	q.log = logging.OrStandard(q.log).WithField("component", "event_queue")
	q.lastFlush = q.now()
	return q
}

func (q *Queue) SetConfig(cfg Config) {
	normalized := cfg.normalized()
	q.config.Store(&normalized)
}

func (q *Queue) Config() Config {
	return *q.config.Load()
}

func (q *Queue) SetLiveEventTypes(types []string) {
	set := typeSet(types)
	q.live.Store(&set)
}

func (q *Queue) SetExcludedEventTypes(types []string) {
	set := typeSet(types)
	q.excluded.Store(&set)
}

func (q *Queue) isLive(eventType string) bool {
	_, ok := (*q.live.Load())[eventType]
	return ok
}

func (q *Queue) isExcluded(eventType string) bool {
	_, ok := (*q.excluded.Load())[eventType]
	return ok
}

// Restore prepends events persisted by a previous process.
func (q *Queue) Restore(ctx context.Context) error {
	var persisted []event.Event
	found, err := q.store.Get(ctx, StorageKey, &persisted)
	if err != nil {
		return err
	}
	if !found || len(persisted) == 0 {
		return nil
	}

	q.mu.Lock()
	q.buffer = append(persisted, q.buffer...)
	q.trimLocked()
	q.persistLocked()
	q.mu.Unlock()

	q.log.WithField("events", len(persisted)).Info("restored buffered events")
	return nil
}

// Add buffers ev and requests a flush when the threshold is reached or the
// event type is live. Excluded event types are dropped.
func (q *Queue) Add(ev event.Event) {
	if q.isExcluded(ev.EventType) {
		metrics.RecordEvent("excluded")
		return
	}

	q.mu.Lock()
	q.buffer = append(q.buffer, ev)
	q.trimLocked()
	q.persistLocked()
	count := len(q.buffer)
	q.mu.Unlock()

	metrics.RecordEvent("queued")
	if count >= q.Config().UploadThreshold || q.isLive(ev.EventType) {
		q.requestFlush()
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

func (q *Queue) Events() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]event.Event(nil), q.buffer...)
}

func (q *Queue) requestFlush() {
	select {
	case q.flushCh <- struct{}{}:
	default:
	}
}

// Run drives threshold and interval flushes until ctx is cancelled, then
// makes one last attempt to drain the buffer.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := q.flush(drainCtx, true); err != nil {
				q.log.WithError(err).Warn("final flush failed")
			}
			cancel()
			return
		case <-q.flushCh:
			if err := q.flush(ctx, false); err != nil {
				q.log.WithError(err).Debug("flush failed, batch kept for retry")
			}
		case <-ticker.C:
			if !q.intervalElapsed() {
				continue
			}
			if err := q.flush(ctx, false); err != nil {
				q.log.WithError(err).Debug("interval flush failed, batch kept for retry")
			}
		}
	}
}

func (q *Queue) intervalElapsed() bool {
	interval := q.Config().UploadInterval

	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer) > 0 && q.now().Sub(q.lastFlush) >= interval
}

// Flush sends everything buffered, one batch at a time, stopping at the
// first transient failure. When another flush is running, Flush returns nil
// and the running flush drains the buffer before it stops.
func (q *Queue) Flush(ctx context.Context) error {
	return q.flush(ctx, true)
}

func (q *Queue) flush(ctx context.Context, drain bool) error {
	q.mu.Lock()
	if q.flushing {
		if drain {
			q.drainNext = true
		}
		q.mu.Unlock()
		return nil
	}
	q.flushing = true
	q.mu.Unlock()

	for {
		batch := q.takeBatch()
		if len(batch) > 0 {
			err := q.sender.Send(ctx, batch)
			remaining := q.settle(batch, err)

			switch {
			case err == nil:
			case errors.Is(err, ErrRejected):
				q.archive(ctx, batch, err)
			default:
				q.finishFlush()
				return err
			}

			if remaining > 0 && (drain || remaining >= q.Config().UploadThreshold) {
				continue
			}
		}

		if !q.stopOrDrain() {
			return nil
		}
		drain = true
	}
}

// stopOrDrain ends the running flush unless a drain was requested while it
// ran and events are still buffered. It reports whether to keep flushing.
func (q *Queue) stopOrDrain() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drainNext && len(q.buffer) > 0 {
		q.drainNext = false
		return true
	}
	q.drainNext = false
	q.flushing = false
	return false
}

func (q *Queue) finishFlush() {
	q.mu.Lock()
	q.drainNext = false
	q.flushing = false
	q.mu.Unlock()
}

func (q *Queue) takeBatch() []event.Event {
	cfg := q.Config()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.trimLocked()
	size := len(q.buffer)
	if size > cfg.MaxBatchSize {
		size = cfg.MaxBatchSize
	}
	q.inFlight = size
	return append([]event.Event(nil), q.buffer[:size]...)
}

func (q *Queue) settle(batch []event.Event, err error) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastFlush = q.now()
	entry := q.log.WithField("batch_size", len(batch))

	switch {
	case err == nil:
		metrics.RecordBatch("sent")
		q.buffer = q.buffer[q.inFlight:]
		entry.Debug("batch uploaded")
	case errors.Is(err, ErrRejected):
		metrics.RecordBatch("rejected")
		metrics.RecordEvents("rejected", q.inFlight)
		q.buffer = q.buffer[q.inFlight:]
		entry.WithError(err).Error("batch rejected, dropping events")
	default:
		metrics.RecordBatch("failed")
		entry.WithError(err).Warn("batch upload failed")
	}

	q.inFlight = 0
	q.persistLocked()
	return len(q.buffer)
}

func (q *Queue) archive(ctx context.Context, batch []event.Event, cause error) {
	if q.archiver == nil {
		return
	}
	if err := q.archiver.ArchiveBatch(ctx, batch, cause.Error()); err != nil {
		q.log.WithError(err).Warn("archive rejected batch failed")
	}
}

// trimLocked drops the oldest events beyond MaxEvents, including events of
// a batch that is currently in flight.
func (q *Queue) trimLocked() {
	excess := len(q.buffer) - q.Config().MaxEvents
	if excess <= 0 {
		return
	}

	q.buffer = append([]event.Event(nil), q.buffer[excess:]...)
	if excess > q.inFlight {
		q.inFlight = 0
	} else {
		q.inFlight -= excess
	}

	metrics.RecordEvents("dropped", excess)
	q.log.WithField("dropped", excess).Warn("event buffer full, dropping oldest events")
}

func (q *Queue) persistLocked() {
	metrics.SetQueueDepth(len(q.buffer))
	if err := q.store.Set(context.Background(), StorageKey, q.buffer); err != nil {
		q.log.WithError(err).Warn("persist event buffer failed")
	}
}
