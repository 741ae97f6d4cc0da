package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/config"
)

// Sender delivers an event over one channel
type Sender interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Dispatcher fans events out to senders from a bounded queue.
// Publish never blocks; a full queue drops the event.
type Dispatcher struct {
	queue   chan Event
	senders []Sender
	cfg     config.NotificationsConfig
	logger  *zap.Logger
	sent    *prometheus.CounterVec

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
}

// NewDispatcher creates a dispatcher. reg may be nil.
func NewDispatcher(cfg config.NotificationsConfig, senders []Sender, reg prometheus.Registerer, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		queue:   make(chan Event, cfg.QueueSize),
		senders: senders,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "notifications")),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrilend",
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
	}
	if reg != nil {
		reg.MustRegister(d.sent)
	}
	return d
}

// Start launches the workers. They exit once Stop drains the queue.
func (d *Dispatcher) Start() {
	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Publish enqueues event for delivery
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.queue <- event:
	default:
		d.sent.WithLabelValues("queue", "dropped").Inc()
		d.logger.Warn("Notification queue full, event dropped",
			zap.String("type", string(event.Type)),
			zap.String("user_id", event.UserID.String()))
	}
}

// Stop closes the queue and waits for queued events to be delivered or ctx to end
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, sender := range d.senders {
			d.deliver(sender, event)
		}
	}
}

func (d *Dispatcher) deliver(sender Sender, event Event) {
	attempts := d.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	timeout := d.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = sender.Send(ctx, event)
		cancel()
		if err == nil {
			d.sent.WithLabelValues(sender.Name(), "sent").Inc()
			return
		}
		if attempt < attempts {
			time.Sleep(d.cfg.RetryDelay * time.Duration(attempt))
		}
	}

	d.sent.WithLabelValues(sender.Name(), "failed").Inc()
	d.logger.Warn("Notification delivery failed",
		zap.String("channel", sender.Name()),
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID.String()),
		zap.Int("attempts", attempts),
		zap.Error(err))
}
