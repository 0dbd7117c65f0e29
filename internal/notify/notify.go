// Package notify delivers ledger events to the notification collaborator.
// Delivery is fire-and-forget: callers never wait on, or fail because of, it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketplace-ledger/internal/money"

	"github.com/redis/go-redis/v9"
)

const (
	EventOrderCompleted      = "order.completed"
	EventOrderRefunded       = "order.refunded"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalRejected  = "withdrawal.rejected"
	EventDepositCompleted    = "deposit.completed"
)

type Event struct {
	Type         string      `json:"event"`
	OrderID      string      `json:"orderId,omitempty"`
	BuyerID      string      `json:"buyerId,omitempty"`
	SellerID     string      `json:"sellerId,omitempty"`
	WithdrawalID string      `json:"withdrawalId,omitempty"`
	DepositID    string      `json:"depositId,omitempty"`
	UserID       string      `json:"userId,omitempty"`
	Amount       money.Cents `json:"amount"`
	OccurredAt   time.Time   `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Notifier accepts events without blocking.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type redisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) Publisher {
	return &redisPublisher{rdb: rdb, channel: channel}
}

func (p *redisPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

type logPublisher struct{}

// NewLogPublisher writes events to the default logger; used when no broker is configured.
func NewLogPublisher() Publisher {
	return logPublisher{}
}

func (logPublisher) Publish(ctx context.Context, e Event) error {
	slog.InfoContext(ctx, "notification",
		"event", e.Type,
		"order_id", e.OrderID,
		"withdrawal_id", e.WithdrawalID,
		"amount", e.Amount.String(),
	)
	return nil
}

// Dispatcher buffers events and publishes them from a single worker.
type Dispatcher struct {
	pub     Publisher
	ch      chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration

	// mu orders enqueues before the final drain: Notify holds it shared,
	// Close exclusively while it flips closed.
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(pub Publisher, buffer int) *Dispatcher {
	return &Dispatcher{
		pub:     pub,
		ch:      make(chan Event, buffer),
		stop:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Notify queues e, dropping it with a warning when the buffer is full.
func (d *Dispatcher) Notify(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		slog.WarnContext(ctx, "notification dropped after shutdown", "event", e.Type, "order_id", e.OrderID)
		return
	}
	select {
	case d.ch <- e:
	default:
		slog.WarnContext(ctx, "notification buffer full, dropping", "event", e.Type, "order_id", e.OrderID)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.publish(e)
		case <-d.stop:
			// drain what was accepted before stop
			for {
				select {
				case e := <-d.ch:
					d.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) publish(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.pub.Publish(ctx, e); err != nil {
		slog.Error("publish notification", "event", e.Type, "order_id", e.OrderID, "error", err)
	}
}

// Close stops the worker after flushing queued events.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.stop)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
