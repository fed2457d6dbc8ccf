package publisher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/store/memory"
	"veriface/pkg/platform/circuit"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	requestID := uuid.NewString()
	event := audit.Event{
		RequestID: requestID,
		Action:    string(audit.EventStageEntered),
		Stage:     "received",
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventStageEntered), events[0].Action)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.NotEmpty(t, events[0].ID)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	requestID := uuid.NewString()
	event := audit.Event{
		RequestID: requestID,
		Action:    string(audit.EventSubjectEnrolled),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), requestID)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)

	events, err := pub.List(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	requestID := uuid.NewString()

	for range 10 {
		event := audit.Event{
			RequestID: requestID,
			Action:    string(audit.EventStageEntered),
		}
		err := pub.Emit(context.Background(), event)
		require.NoError(t, err)
	}

	require.NoError(t, pub.Close())

	events, err := store.ListByRequest(context.Background(), requestID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(4))
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close(), "close is idempotent")

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventStageEntered)})
	assert.ErrorIs(t, err, ErrClosed)
}

// blockingStore holds every Append until release is closed.
type blockingStore struct {
	release chan struct{}
	count   atomic.Int32
}

func (b *blockingStore) Append(ctx context.Context, _ audit.Event) error {
	<-b.release
	b.count.Add(1)
	return nil
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pub := NewPublisher(store, WithAsyncBuffer(1), WithMetrics(metrics))

	var wg sync.WaitGroup
	var full atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{
				RequestID: "req-1",
				Action:    string(audit.EventStageEntered),
			})
			if errors.Is(err, ErrBufferFull) {
				full.Add(1)
			}
		}()
	}
	wg.Wait()

	// At most one event sits in the worker and one in the buffer.
	assert.GreaterOrEqual(t, full.Load(), int32(8))
	assert.Equal(t, float64(full.Load()), testutil.ToFloat64(metrics.Dropped))

	close(store.release)
	require.NoError(t, pub.Close())
	assert.Equal(t, int32(10)-full.Load(), store.count.Load())
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	requestID := uuid.NewString()
	event := audit.Event{
		RequestID: requestID,
		Action:    string(audit.EventVerificationCompleted),
	}

	before := time.Now()
	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.False(t, events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.False(t, events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	requestID := uuid.NewString()
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event := audit.Event{
		RequestID: requestID,
		Action:    string(audit.EventVerificationRejected),
		Timestamp: customTime,
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_ContextCancellation(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer func() {
		close(store.release)
		pub.Close()
	}()

	// One event parks in the worker, one fills the buffer.
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: string(audit.EventStageEntered)}))
	require.Eventually(t, func() bool {
		return pub.Emit(context.Background(), audit.Event{Action: string(audit.EventStageEntered)}) == nil
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Emit(ctx, audit.Event{Action: string(audit.EventStageEntered)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrBufferFull),
		"expected context.Canceled or buffer full error, got: %v", err)
}

func TestPublisher_MultipleEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	requestID := uuid.NewString()

	events := []audit.Event{
		{RequestID: requestID, Action: string(audit.EventStageEntered)},
		{RequestID: requestID, Action: string(audit.EventSubjectEnrolled)},
		{RequestID: requestID, Action: string(audit.EventVerificationCompleted)},
	}

	for _, event := range events {
		err := pub.Emit(context.Background(), event)
		require.NoError(t, err)
	}

	result, err := pub.List(context.Background(), requestID)
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, string(audit.EventStageEntered), result[0].Action)
	assert.Equal(t, string(audit.EventSubjectEnrolled), result[1].Action)
	assert.Equal(t, string(audit.EventVerificationCompleted), result[2].Action)
}

func TestPublisher_DifferentRequests(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	req1 := uuid.NewString()
	req2 := uuid.NewString()

	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		RequestID: req1,
		Action:    string(audit.EventVerificationCompleted),
	}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		RequestID: req2,
		Action:    string(audit.EventDuplicateDetected),
	}))

	events1, err := pub.List(context.Background(), req1)
	require.NoError(t, err)
	require.Len(t, events1, 1)
	assert.Equal(t, string(audit.EventVerificationCompleted), events1[0].Action)

	events2, err := pub.List(context.Background(), req2)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, audit.CategorySecurity, events2[0].Category)
}

type failingStore struct {
	calls atomic.Int32
}

func (f *failingStore) Append(context.Context, audit.Event) error {
	f.calls.Add(1)
	return errors.New("connection refused")
}

func TestPublisher_BreakerStopsWritesToFailingStore(t *testing.T) {
	store := &failingStore{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	breaker := circuit.New("audit", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	pub := NewPublisher(store, WithBreaker(breaker), WithMetrics(metrics))
	defer pub.Close()

	ctx := context.Background()
	event := audit.Event{Action: string(audit.EventStageEntered)}

	require.Error(t, pub.Emit(ctx, event))
	require.Error(t, pub.Emit(ctx, event))
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerState))

	err := pub.Emit(ctx, event)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), store.calls.Load(), "open circuit skips the store")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PersistFailures))
}

func TestPublisher_ListUnsupported(t *testing.T) {
	pub := NewPublisher(&failingStore{})
	defer pub.Close()

	_, err := pub.List(context.Background(), "req")
	assert.ErrorIs(t, err, ErrNotListable)
}

func TestPublisher_SamplerOnlyThinsOperationsEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	sampler := NewSampler(0)
	pub := NewPublisher(store, WithSampler(sampler))
	defer pub.Close()

	ctx := context.Background()
	require.NoError(t, pub.Emit(ctx, audit.Event{RequestID: "r", Action: string(audit.EventStageEntered)}))
	require.NoError(t, pub.Emit(ctx, audit.Event{RequestID: "r", Action: string(audit.EventVerificationRejected)}))
	require.NoError(t, pub.Emit(ctx, audit.Event{RequestID: "r", Action: string(audit.EventDuplicateDetected)}))

	events, err := pub.List(ctx, "r")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(audit.EventVerificationRejected), events[0].Action)
}

func TestSampler_Rates(t *testing.T) {
	s := NewSampler(2)
	assert.True(t, s.Keep("anything"), "rate is clamped to 1")

	s.SetRate("noisy", 0.25)
	s.draw = func() float64 { return 0.2 }
	assert.True(t, s.Keep("noisy"))
	s.draw = func() float64 { return 0.3 }
	assert.False(t, s.Keep("noisy"))

	s.SetRate("muted", -1)
	assert.False(t, s.Keep("muted"))
}
