// Package notify adapts the notification and audit sinks so that their
// failures never reach the operation that triggered them.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/repository"
)

// Store persists a notification.
type Store interface {
	Insert(ctx context.Context, n *repository.Notification) error
}

// Dispatcher delivers notifications on a background worker. Notify never
// blocks: when the queue is full the notification is dropped and logged.
type Dispatcher struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan repository.Notification
	done   chan struct{}
}

func NewDispatcher(store Store, queueSize int, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		store:   store,
		log:     log.Named("notify"),
		metrics: m,
		timeout: 5 * time.Second,
		queue:   make(chan repository.Notification, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Notify(_ context.Context, userID, kind, title, message string, metadata map[string]string) {
	if userID == "" {
		return
	}
	n := repository.Notification{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification after close dropped", zap.String("user_id", userID), zap.String("kind", kind))
		d.metrics.NotificationDropped()
		return
	}
	select {
	case d.queue <- n:
	default:
		d.log.Warn("notification queue full, dropping", zap.String("user_id", userID), zap.String("kind", kind))
		d.metrics.NotificationDropped()
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.store.Insert(ctx, &n); err != nil {
			d.log.Warn("deliver notification",
				zap.String("user_id", n.UserID), zap.String("kind", n.Kind), zap.Error(err))
			d.metrics.SinkFailure("notification")
		}
		cancel()
	}
}
