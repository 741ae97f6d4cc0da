package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/config"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	calls    int
	received []Event
}

func (s *flakySender) Name() string { return "flaky" }

func (s *flakySender) Send(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("temporarily unavailable")
	}
	s.received = append(s.received, event)
	return nil
}

func testConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		QueueSize:   8,
		Workers:     1,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		SendTimeout: time.Second,
	}
}

func TestDispatcherRetriesUntilDelivered(t *testing.T) {
	sender := &flakySender{failures: 2}
	reg := prometheus.NewRegistry()
	d := NewDispatcher(testConfig(), []Sender{sender}, reg, zap.NewNop())
	d.Start()

	d.Publish(NewEvent(EventEscrowConfirmed, uuid.New(), "Escrow confirmed", "Funds are held in escrow", nil))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 3, sender.calls)
	require.Len(t, sender.received, 1)
	assert.Equal(t, EventEscrowConfirmed, sender.received[0].Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.sent.WithLabelValues("flaky", "sent")))
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	sender := &flakySender{failures: 10}
	d := NewDispatcher(testConfig(), []Sender{sender}, nil, zap.NewNop())
	d.Start()

	d.Publish(NewEvent(EventOrderCreated, uuid.New(), "New order", "", nil))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 3, sender.calls)
	assert.Empty(t, sender.received)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.sent.WithLabelValues("flaky", "failed")))
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(cfg, []Sender{&flakySender{}}, nil, zap.NewNop())

	// Workers are not started, so the second and third events overflow the queue
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			d.Publish(NewEvent(EventOrderCreated, uuid.New(), "New order", "", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(d.sent.WithLabelValues("queue", "dropped")))
}

func TestDispatcherIgnoresPublishAfterStop(t *testing.T) {
	sender := &flakySender{}
	d := NewDispatcher(testConfig(), []Sender{sender}, nil, zap.NewNop())
	d.Start()
	require.NoError(t, d.Stop(context.Background()))

	d.Publish(NewEvent(EventOrderCreated, uuid.New(), "late", "", nil))
	assert.Zero(t, sender.calls)
}
