package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	"paltabrain/sdk/internal/analytics/event"
)

const DefaultPrefix = "dead-letter"

type Record struct {
	Reason     string        `json:"reason"`
	ArchivedAt time.Time     `json:"archivedAt"`
	Events     []event.Event `json:"events"`
}

// Archive writes rejected event batches to a Store as JSON records.
type Archive struct {
	store  Store
	prefix string
	now    func() time.Time
	newID  func() string
}

func NewArchive(store Store, prefix string) *Archive {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Archive{
		store:  store,
		prefix: prefix,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func ObjectKey(prefix string, at time.Time, id string) string {
	return path.Join(prefix, at.UTC().Format("2006/01/02"), id+".json")
}

// ArchiveBatch is a no-op when the underlying store is not configured.
func (a *Archive) ArchiveBatch(ctx context.Context, events []event.Event, reason string) error {
	_, err := a.archive(ctx, events, reason)
	return err
}

func (a *Archive) archive(ctx context.Context, events []event.Event, reason string) (string, error) {
	at := a.now()
	payload, err := json.Marshal(Record{Reason: reason, ArchivedAt: at.UTC(), Events: events})
	if err != nil {
		return "", fmt.Errorf("encode dead-letter record: %w", err)
	}

	key := ObjectKey(a.prefix, at, a.newID())
	if err := a.store.StoreBatch(ctx, key, payload); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return "", nil
		}
		return "", err
	}
	return key, nil
}

func (a *Archive) Load(ctx context.Context, objectKey string) (Record, error) {
	payload, err := a.store.LoadBatch(ctx, objectKey)
	if err != nil {
		return Record{}, err
	}

	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return Record{}, fmt.Errorf("decode dead-letter record %s: %w", objectKey, err)
	}
	return record, nil
}

// Sender uploads a batch of events. The analytics BatchSender satisfies it.
type Sender interface {
	Send(ctx context.Context, events []event.Event) error
}

// List returns the keys of archived records.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	keys, err := a.store.ListBatches(ctx, a.prefix+"/")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Replay re-sends an archived record and deletes it once the upload succeeds.
func (a *Archive) Replay(ctx context.Context, objectKey string, sender Sender) (int, error) {
	record, err := a.Load(ctx, objectKey)
	if err != nil {
		return 0, err
	}
	if len(record.Events) > 0 {
		if err := sender.Send(ctx, record.Events); err != nil {
			return 0, fmt.Errorf("replay %s: %w", objectKey, err)
		}
	}
	if err := a.store.DeleteObject(ctx, objectKey); err != nil {
		return len(record.Events), fmt.Errorf("delete replayed batch %s: %w", objectKey, err)
	}
	return len(record.Events), nil
}
