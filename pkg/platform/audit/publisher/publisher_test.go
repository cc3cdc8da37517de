package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/audit/store/memory"
)

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) AppendMutation(context.Context, audit.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("sheet unavailable")
}

func (f *failingStore) AppendSearch(context.Context, audit.Search) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("sheet unavailable")
}

type failureCounter struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (c *failureCounter) IncrementAuditFailure(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds == nil {
		c.kinds = map[string]int{}
	}
	c.kinds[kind]++
}

func (c *failureCounter) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[kind]
}

type recordingStream struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (r *recordingStream) Publish(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestLogger_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	l := NewLogger(store)
	defer l.Close()

	l.LogMutation(context.Background(), audit.Mutation{
		EntityID:      "rec-1",
		Action:        audit.ActionInsert,
		ChangedFields: []string{"pan_number"},
	})

	got, err := l.ListMutations(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, audit.ActionInsert, got[0].Action)
}

func TestLogger_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	l := NewLogger(store, WithClock(func() time.Time { return fixed }))

	l.LogSearch(context.Background(), audit.Search{Field: "name", Query: "john", ResultCount: 2})

	got, err := l.ListSearches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fixed, got[0].Timestamp)
}

func TestLogger_PreservesExistingIDAndTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	l := NewLogger(store)
	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	l.LogMutation(context.Background(), audit.Mutation{ID: "fixed", EntityID: "rec-1", Action: audit.ActionUpdate, Timestamp: custom})

	got, err := store.ListMutations(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fixed", got[0].ID)
	assert.Equal(t, custom, got[0].Timestamp)
}

func TestLogger_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	l := NewLogger(store, WithAsyncBuffer(100))

	for range 10 {
		l.LogMutation(context.Background(), audit.Mutation{EntityID: "rec-1", Action: audit.ActionUpdate})
	}
	require.NoError(t, l.Close())

	got, err := store.ListMutations(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Len(t, got, 10, "all entries should be drained on close")

	// after close, writes fall back to synchronous
	l.LogMutation(context.Background(), audit.Mutation{EntityID: "rec-1", Action: audit.ActionUpdate})
	got, err = store.ListMutations(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Len(t, got, 11)
	require.NoError(t, l.Close())
}

func TestLogger_BufferFullDropsWithoutBlocking(t *testing.T) {
	store := memory.NewInMemoryStore()
	counter := &failureCounter{}
	l := NewLogger(store, WithAsyncBuffer(1), WithMetrics(counter))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogSearch(context.Background(), audit.Search{Field: "name", Query: "x"})
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	written, err := store.ListSearches(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 50, len(written)+counter.count(FailureBufferFull))
}

func TestLogger_StoreFailureIsSwallowed(t *testing.T) {
	counter := &failureCounter{}
	l := NewLogger(&failingStore{}, WithMetrics(counter))

	assert.NotPanics(t, func() {
		l.LogMutation(context.Background(), audit.Mutation{EntityID: "rec-1", Action: audit.ActionInsert})
		l.LogSearch(context.Background(), audit.Search{Field: "phone", Query: "9999999999"})
	})
	assert.Equal(t, 2, counter.count(FailureStore))

	got, err := l.ListMutations(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Empty(t, got, "stores without a read side return nothing")
}

func TestLogger_CircuitOpensAfterThreshold(t *testing.T) {
	store := &failingStore{}
	counter := &failureCounter{}
	l := NewLogger(store, WithMetrics(counter), WithCircuitBreaker(NewCircuitBreaker(2, time.Hour)))

	for range 5 {
		l.LogSearch(context.Background(), audit.Search{Field: "name", Query: "x"})
	}

	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 2, counter.count(FailureStore))
	assert.Equal(t, 3, counter.count(FailureCircuitOpen))
}

func TestLogger_StreamMirror(t *testing.T) {
	store := memory.NewInMemoryStore()
	stream := &recordingStream{}
	l := NewLogger(store, WithStream(stream))

	l.LogMutation(context.Background(), audit.Mutation{EntityID: "rec-1", Action: audit.ActionInsert})
	l.LogSearch(context.Background(), audit.Search{Field: "email", Query: "a@b.c"})

	require.Len(t, stream.events, 2)
	assert.Equal(t, audit.KindMutation, stream.events[0].Kind)
	assert.Equal(t, "rec-1", stream.events[0].Mutation.EntityID)
	assert.Equal(t, audit.KindSearch, stream.events[1].Kind)

	t.Run("stream failure does not block the store", func(t *testing.T) {
		counter := &failureCounter{}
		broken := &recordingStream{err: errors.New("broker down")}
		l := NewLogger(store, WithStream(broken), WithMetrics(counter))

		l.LogMutation(context.Background(), audit.Mutation{EntityID: "rec-2", Action: audit.ActionInsert})

		got, err := store.ListMutations(context.Background(), "rec-2")
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, 1, counter.count(FailureStream))
	})
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.LogMutation(context.Background(), audit.Mutation{})
		l.LogSearch(context.Background(), audit.Search{})
		_ = l.Close()
	})
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow(), "cooldown elapsed lets a trial through")

	cb.RecordFailure()
	assert.True(t, cb.IsOpen(), "a failed trial reopens immediately")

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
