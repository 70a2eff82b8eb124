package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/storefront/pkg/kafka"
)

// =============================================================================
// Моки
// =============================================================================

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Outbox), args.Error(1)
}

func (m *mockRepository) MarkProcessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) MarkFailed(ctx context.Context, id string, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *mockRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) SendMessage(ctx context.Context, msg *kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// =============================================================================
// Тесты
// =============================================================================

func testEvent(t *testing.T) *Outbox {
	t.Helper()
	rec, err := NewEvent("TXN1", "payment_session.succeeded", "checkout.events",
		map[string]string{"status": "SUCCESS"}, map[string]string{kafka.HeaderTraceID: "trace-1"})
	require.NoError(t, err)
	return rec
}

func TestNewEvent(t *testing.T) {
	rec := testEvent(t)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, AggregateCheckout, rec.AggregateType)
	assert.Equal(t, "TXN1", rec.MessageKey)
	assert.Equal(t, "payment_session.succeeded", rec.Headers["event_type"])
	assert.JSONEq(t, `{"status":"SUCCESS"}`, string(rec.Payload))
}

func TestWorker_ProcessSingle_Success(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockProducer)
	w := NewWorker(repo, producer, DefaultWorkerConfig())

	rec := testEvent(t)

	producer.On("SendMessage", mock.Anything, mock.MatchedBy(func(m *kafka.Message) bool {
		return m.Topic == "checkout.events" && string(m.Key) == "TXN1"
	})).Return(nil)
	repo.On("MarkProcessed", ctx, rec.ID).Return(nil)

	require.NoError(t, w.ProcessSingle(ctx, rec))

	producer.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestWorker_ProcessSingle_SendError(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockProducer)
	w := NewWorker(repo, producer, DefaultWorkerConfig())

	rec := testEvent(t)
	sendErr := errors.New("kafka unavailable")

	producer.On("SendMessage", mock.Anything, mock.Anything).Return(sendErr)
	repo.On("MarkFailed", ctx, rec.ID, sendErr).Return(nil)

	err := w.ProcessSingle(ctx, rec)

	assert.ErrorIs(t, err, sendErr)
	repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestWorker_ProcessBatch_DeadLetter(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockProducer)
	cfg := DefaultWorkerConfig()
	cfg.MaxRetries = 3
	w := NewWorker(repo, producer, cfg)

	dead := &Outbox{ID: "dead", Topic: "checkout.reconciliation", MessageKey: "TXN9", RetryCount: 3}

	repo.On("GetUnprocessed", ctx, cfg.BatchSize).Return([]*Outbox{dead}, nil)
	repo.On("MarkProcessed", ctx, "dead").Return(nil)

	w.processBatch(ctx)

	repo.AssertExpectations(t)
	producer.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestWorker_ProcessBatch_SendsAll(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepository)
	producer := new(mockProducer)
	cfg := DefaultWorkerConfig()
	w := NewWorker(repo, producer, cfg)

	records := []*Outbox{
		{ID: "o-1", Topic: "checkout.events", MessageKey: "TXN1", Payload: []byte(`{}`)},
		{ID: "o-2", Topic: "checkout.events", MessageKey: "TXN2", Payload: []byte(`{}`)},
	}

	repo.On("GetUnprocessed", ctx, cfg.BatchSize).Return(records, nil)
	producer.On("SendMessage", mock.Anything, mock.Anything).Return(nil).Times(2)
	repo.On("MarkProcessed", ctx, "o-1").Return(nil)
	repo.On("MarkProcessed", ctx, "o-2").Return(nil)

	w.processBatch(ctx)

	repo.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestWorker_Run_StopsOnCancel(t *testing.T) {
	repo := new(mockRepository)
	producer := new(mockProducer)
	cfg := DefaultWorkerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	w := NewWorker(repo, producer, cfg)

	repo.On("GetUnprocessed", mock.Anything, cfg.BatchSize).Return([]*Outbox{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker не остановился после отмены контекста")
	}
}
