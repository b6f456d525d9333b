package events

import (
	"context"
	"encoding/json"
	"time"

	evbus "github.com/asaskevich/EventBus"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kasirinaja/terminal/internal/domain"
)

const TopicSaleCommitted = "sale:committed"

// SaleCommitted carries the committed invoice. The summary fields mirror it
// for subscribers that only route on ids and totals.
type SaleCommitted struct {
	Invoice       domain.Invoice `json:"invoice"`
	PublishedAt   time.Time      `json:"published_at"`
	InvoiceID     string         `json:"invoice_id"`
	StoreID       string         `json:"store_id"`
	TerminalID    string         `json:"terminal_id"`
	ShiftID       string         `json:"shift_id,omitempty"`
	TotalCents    int64          `json:"total_cents"`
	PaymentMethod string         `json:"payment_method"`
	HasReturns    bool           `json:"has_returns"`
	CommittedAt   time.Time      `json:"committed_at"`
}

func SaleCommittedFrom(inv domain.Invoice, publishedAt time.Time) SaleCommitted {
	event := SaleCommitted{
		Invoice:       inv.Clone(),
		PublishedAt:   publishedAt,
		InvoiceID:     inv.ID,
		StoreID:       inv.StoreID,
		TerminalID:    inv.TerminalID,
		ShiftID:       inv.ShiftID,
		TotalCents:    inv.TotalCents,
		PaymentMethod: inv.PaymentMethod,
		CommittedAt:   inv.CreatedAt,
	}
	for _, line := range inv.Lines {
		if line.IsReturn {
			event.HasReturns = true
			break
		}
	}
	return event
}

// Bus fans sale events out to in-process subscribers. Handlers run
// asynchronously; a slow or failing subscriber never blocks checkout.
type Bus struct {
	bus evbus.Bus
	now func() time.Time
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New(), now: time.Now}
}

func (b *Bus) PublishSaleCommitted(inv domain.Invoice) {
	b.bus.Publish(TopicSaleCommitted, SaleCommittedFrom(inv, b.now().UTC()))
}

func (b *Bus) SubscribeSaleCommitted(handler func(SaleCommitted)) error {
	return b.bus.SubscribeAsync(TopicSaleCommitted, handler, false)
}

func (b *Bus) UnsubscribeSaleCommitted(handler func(SaleCommitted)) error {
	return b.bus.Unsubscribe(TopicSaleCommitted, handler)
}

// Wait blocks until in-flight async handlers return.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}

// RedisRelay forwards sale events to a Redis channel so other terminals and
// back-office screens can refresh.
type RedisRelay struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisRelay(addr string, password string, db int, channel string) *RedisRelay {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRelay{client: client, channel: channel, timeout: 2 * time.Second}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func (r *RedisRelay) Handle(event SaleCommitted) {
	payload, err := json.Marshal(event)
	if err != nil {
		zap.S().Warnw("encode sale event", "invoice", event.InvoiceID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		zap.S().Warnw("relay sale event", "invoice", event.InvoiceID, "channel", r.channel, "error", err)
	}
}
