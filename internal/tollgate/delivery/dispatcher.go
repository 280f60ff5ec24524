package delivery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/metrics"
	"github.com/aussiebroadwan/tollgate/pkg/redact"
)

type DispatcherConfig struct {
	Workers       int           // default 2
	QueueSize     int           // default 256
	RatePerMinute int           // per destination, 0 disables throttling
	Burst         int           // defaults to RatePerMinute
	SendTimeout   time.Duration // per message, default 10s

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher queues messages for a fixed pool of workers. It implements
// Sender, so services never block on a slow relay.
type Dispatcher struct {
	sender   Sender
	cfg      DispatcherConfig
	throttle *throttle
	queue    chan Message

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		sender: sender,
		cfg:    cfg,
		queue:  make(chan Message, cfg.QueueSize),
	}
	if cfg.RatePerMinute > 0 {
		d.throttle = newThrottle(cfg.RatePerMinute, cfg.Burst)
	}

	for range cfg.Workers {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// SendMessage enqueues the message and returns immediately. Throttled or
// overflowing messages are dropped and reported through the error.
func (d *Dispatcher) SendMessage(ctx context.Context, destination, subject, body string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	key := strings.ToLower(strings.TrimSpace(destination))
	if d.throttle != nil && !d.throttle.allow(key) {
		d.drop(ctx, destination, "throttled")
		return ErrThrottled
	}

	select {
	case d.queue <- Message{Destination: destination, Subject: subject, Body: body}:
		return nil
	default:
		d.drop(ctx, destination, "queue_full")
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := d.sender.SendMessage(ctx, msg.Destination, msg.Subject, msg.Body)
		cancel()

		if err != nil {
			d.cfg.Logger.Error("delivery failed",
				"destination", redact.Destination(msg.Destination),
				"subject", msg.Subject,
				"error", err,
			)
			d.cfg.Metrics.DeliveryFailed(context.Background(), "send_error")
		}
	}
}

func (d *Dispatcher) drop(ctx context.Context, destination, reason string) {
	d.cfg.Logger.WarnContext(ctx, "delivery dropped",
		"destination", redact.Destination(destination),
		"reason", reason,
	)
	d.cfg.Metrics.DeliveryFailed(ctx, reason)
}
