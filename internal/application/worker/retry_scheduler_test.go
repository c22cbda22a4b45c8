package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/worker"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/eventbus"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/outbox"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/persistence/sqlite"
)

type fakeBus struct {
	mu        sync.Mutex
	published []event.Event
	publishFn func(event.Event) error
}

func (f *fakeBus) Publish(evt event.Event) error {
	f.mu.Lock()
	f.published = append(f.published, evt)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(evt)
	}
	return nil
}

func (f *fakeBus) events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.published...)
}

func TestRetryScheduler_Next_ShouldBackOffExponentiallyUpToMax(t *testing.T) {
	retry := &worker.RetryScheduler{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, retry.Next(1, 0))
	assert.Equal(t, 200*time.Millisecond, retry.Next(2, 0))
	assert.Equal(t, 400*time.Millisecond, retry.Next(3, 0))
	assert.Equal(t, time.Second, retry.Next(5, 0))
	assert.Equal(t, time.Second, retry.Next(64, 0))
}

func TestRetryScheduler_Next_ShouldHonorLongerPluginHint(t *testing.T) {
	retry := &worker.RetryScheduler{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 3*time.Second, retry.Next(1, 3*time.Second))
	assert.Equal(t, 200*time.Millisecond, retry.Next(2, 50*time.Millisecond))
}

func TestRetryScheduler_Exhausted_ShouldStopAtMaxRetry(t *testing.T) {
	retry := &worker.RetryScheduler{MaxRetry: 3}

	assert.False(t, retry.Exhausted(2))
	assert.True(t, retry.Exhausted(3))

	unbounded := &worker.RetryScheduler{}
	assert.False(t, unbounded.Exhausted(1000))
}

func TestRetryScheduler_WhenTransactionPendingWithRetryTime_ShouldPublishRetryRequest(t *testing.T) {
	bus := &fakeBus{}
	retry := &worker.RetryScheduler{EventBus: bus}

	at := time.Now().Add(time.Millisecond)
	err := retry.Handle(event.Event{
		Type: event.TransactionPending,
		Payload: event.TransactionPayload{
			TransactionID: "tx-1",
			Recoverable:   true,
			Attempt:       1,
			NextRetryAt:   &at,
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(bus.events()) == 1 }, time.Second, time.Millisecond)

	got := bus.events()[0]
	assert.Equal(t, event.TransactionRetryRequested, got.Type)
	assert.Equal(t, event.RetryPayload{TransactionID: "tx-1", Attempt: 2}, got.Payload)
}

func TestRetryScheduler_WhenAwaitingConfirmation_ShouldNotSchedule(t *testing.T) {
	bus := &fakeBus{}
	retry := &worker.RetryScheduler{EventBus: bus}

	err := retry.Handle(event.Event{
		Type: event.TransactionPending,
		Payload: event.TransactionPayload{
			TransactionID: "tx-1",
			Recoverable:   true,
		},
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, bus.events())
}

func TestRetryScheduler_WhenPayloadIsWrong_ShouldFail(t *testing.T) {
	retry := &worker.RetryScheduler{EventBus: &fakeBus{}}

	err := retry.Handle(event.Event{Type: event.TransactionPending, Payload: "nope"})
	assert.Error(t, err)
}

func pendingEvent(id string, attempt int, at time.Time) event.Event {
	return event.Event{
		Type: event.TransactionPending,
		Payload: event.TransactionPayload{
			TransactionID: id,
			Recoverable:   true,
			Attempt:       attempt,
			NextRetryAt:   &at,
		},
	}
}

func TestRetryScheduler_WhenPendingEventRepeats_ShouldRequestRetryOnce(t *testing.T) {
	bus := &fakeBus{}
	retry := &worker.RetryScheduler{EventBus: bus, Logger: logging.Nop{}}

	evt := pendingEvent("tx-1", 1, time.Now().Add(20*time.Millisecond))
	for i := 0; i < 3; i++ {
		require.NoError(t, retry.Handle(evt))
	}

	require.Eventually(t, func() bool { return len(bus.events()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, bus.events(), 1)
}

func TestRetryScheduler_WhenLaterAttemptArrives_ShouldScheduleIt(t *testing.T) {
	bus := &fakeBus{}
	retry := &worker.RetryScheduler{EventBus: bus}

	at := time.Now().Add(20 * time.Millisecond)
	require.NoError(t, retry.Handle(pendingEvent("tx-1", 1, at)))
	require.NoError(t, retry.Handle(pendingEvent("tx-1", 2, at)))

	require.Eventually(t, func() bool { return len(bus.events()) == 2 }, time.Second, time.Millisecond)
}

func TestRetryScheduler_WhenOutboxRedeliversAfterSinkFailure_ShouldRequestRetryOnce(t *testing.T) {
	db, err := sqlite.Open(sqlite.DriverPure, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.RunMigrations(db))
	outboxRepo := outbox.NewSQLiteRepository(db)

	requests := &fakeBus{}
	retry := &worker.RetryScheduler{EventBus: requests, Logger: logging.Nop{}}

	local := eventbus.NewInMemoryBus()
	local.Subscribe(event.TransactionPending, retry.Handle)
	broken := &fakeBus{publishFn: func(event.Event) error { return errors.New("broker unavailable") }}

	dispatcher := &outbox.Dispatcher{
		Repo:      outboxRepo,
		EventBus:  eventbus.Fanout{local, broken},
		Logger:    logging.Nop{},
		BatchSize: 10,
	}

	recorder := &outbox.Recorder{Repo: outboxRepo}
	require.NoError(t, recorder.Record(pendingEvent("tx-1", 1, time.Now().Add(20*time.Millisecond))))

	for i := 0; i < 5; i++ {
		dispatcher.DispatchOnce(context.Background())
	}
	assert.Len(t, broken.events(), 5)

	require.Eventually(t, func() bool { return len(requests.events()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, requests.events(), 1)
}
