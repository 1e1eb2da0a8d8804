package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/internal/docstore"
	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
)

// MockEventBus is a mock for the Subscribe side of EventBus.Bus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Subscribe(topic string, fn interface{}) error {
	args := m.Called(topic, fn)
	return args.Error(0)
}

func TestNewSubscribers(t *testing.T) {
	log := logger.Mock()
	mockBus := new(MockEventBus)

	captured := map[string]interface{}{}
	mockBus.On("Subscribe", mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured[args.String(0)] = args.Get(1)
		}).
		Return(nil)

	_ = NewSubscribers(log, mockBus)

	for _, topic := range []string{
		domain.EventSyncBlobStored,
		domain.EventSyncBlobConflict,
		domain.EventDocumentWritten,
		domain.EventDocumentDeleted,
		domain.EventOrphanSweepDone,
	} {
		require.Contains(t, captured, topic, "expected a subscription for %s", topic)
	}

	// handlers must have the signatures publishers use
	blobHandler, ok := captured[domain.EventSyncBlobStored].(func(domain.EventPayload))
	require.True(t, ok, "sync blob handler has the wrong type")
	assert.NotPanics(t, func() {
		blobHandler(domain.EventPayload{Subject: "merchant-1", Message: "1.0.0", Timestamp: time.Now()})
	})

	docHandler, ok := captured[domain.EventDocumentWritten].(func(string))
	require.True(t, ok, "document handler has the wrong type")
	assert.NotPanics(t, func() { docHandler("invoice:INV-1") })

	sweepHandler, ok := captured[domain.EventOrphanSweepDone].(func(*docstore.SweepReport))
	require.True(t, ok, "sweep handler has the wrong type")
	assert.NotPanics(t, func() { sweepHandler(&docstore.SweepReport{RecordsScanned: 3}) })
}

func TestSubscriber_Register_SubscribeError(t *testing.T) {
	log := logger.Mock()
	mockBus := new(MockEventBus)

	mockBus.On("Subscribe", mock.AnythingOfType("string"), mock.Anything).Return(assert.AnError)

	// a failed subscription is logged, never fatal
	assert.NotPanics(t, func() {
		_ = NewSubscribers(log, mockBus)
	})
	mockBus.AssertCalled(t, "Subscribe", domain.EventSyncBlobStored, mock.Anything)
}
