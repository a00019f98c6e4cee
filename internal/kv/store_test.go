package kv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID                 int64 `json:"id"`
	LastEventTimestamp int64 `json:"lastEventTimestamp"`
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	var missing sample
	found, err := store.Get(ctx, "paltaBrainSession", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "paltaBrainSession", sample{ID: 10, LastEventTimestamp: 20}))

	var loaded sample
	found, err = store.Get(ctx, "paltaBrainSession", &loaded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{ID: 10, LastEventTimestamp: 20}, loaded)

	require.NoError(t, store.Delete(ctx, "paltaBrainSession"))
	found, err = store.Get(ctx, "paltaBrainSession", &loaded)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)

	require.NoError(t, store.Close())
	err := store.Set(context.Background(), "k", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(mr.Addr(), "brain:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	exerciseStore(t, store)

	require.NoError(t, store.Set(context.Background(), "raw", []int{1, 2}))
	stored, err := mr.Get("brain:raw")
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", stored)
}

func TestRedisStoreRejectsUnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(addr, "")
	require.Error(t, err)
}

type fakeRow struct {
	value []byte
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.value
	return nil
}

type fakeQuerier struct {
	rows map[string][]byte
	sql  []string
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.sql = append(q.sql, sql)
	switch {
	case strings.HasPrefix(sql, "INSERT"):
		q.rows[args[0].(string)] = args[1].([]byte)
	case strings.HasPrefix(sql, "DELETE"):
		delete(q.rows, args[0].(string))
	}
	return pgconn.CommandTag{}, nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	value, ok := q.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: value}
}

func TestPostgresStore(t *testing.T) {
	db := &fakeQuerier{rows: map[string][]byte{}}
	store := &PostgresStore{db: db}

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.Contains(t, db.sql[0], "CREATE TABLE IF NOT EXISTS sdk_kv")

	exerciseStore(t, store)
	require.NoError(t, store.Close())
}

func TestPostgresStoreWrapsQueryErrors(t *testing.T) {
	store := &PostgresStore{db: &failingQuerier{}}

	var dest sample
	_, err := store.Get(context.Background(), "paltaBrainEvents", &dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read paltaBrainEvents")
}

type failingQuerier struct{}

func (failingQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("connection reset")
}

func (failingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{err: errors.New("connection reset")}
}
