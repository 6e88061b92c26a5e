package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/community-amenity-booking/internal/service"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel with the exchange declared and returns a closer
// for the underlying connection.  It must give up when ctx is done.
type dialFunc func(ctx context.Context) (channel, func(), error)

// ErrBrokerUnavailable is returned without touching the network while
// another call is dialing or a recent dial failed.
var ErrBrokerUnavailable = errors.New("rabbitmq: broker unavailable")

const (
	defaultDialTimeout = 3 * time.Second
	defaultRedialAfter = 5 * time.Second
)

// Publisher sends notifications to a durable topic exchange.  The
// connection is opened lazily and reopened after a failed publish.  Only one
// caller dials at a time and the lock is never held across network I/O, so
// a dead broker costs each caller at most the dial timeout.
type Publisher struct {
	exchange    string
	dial        dialFunc
	log         *slog.Logger
	redialAfter time.Duration
	now         func() time.Time

	mu      sync.Mutex
	ch      channel
	closeFn func()
	dialing bool
	retryAt time.Time
}

var _ service.Notifier = (*Publisher)(nil)

// NewPublisher returns a publisher for the broker at url.  No connection is
// made until the first notification.
func NewPublisher(url, exchange string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		exchange:    exchange,
		log:         logger,
		redialAfter: defaultRedialAfter,
		now:         time.Now,
		dial: func(ctx context.Context) (channel, func(), error) {
			return dialExchange(ctx, url, exchange, defaultDialTimeout)
		},
	}
}

func dialExchange(ctx context.Context, url, exchange string, timeout time.Duration) (channel, func(), error) {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, nil, fmt.Errorf("dial broker: %w", context.DeadlineExceeded)
	}
	// DefaultDial also bounds the AMQP handshake by the same timeout.
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, func() { _ = conn.Close() }, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return nil
}

// Notify publishes n as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, n service.Notification) error {
	ev := NewEvent(n)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Template,
		Body:         body,
	}

	ch, err := p.current(ctx)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, p.exchange, ev.RoutingKey(), false, false, msg); err != nil {
		p.log.WarnContext(ctx, "rabbitmq: publish failed, dropping connection", "template", ev.Template, "err", err)
		p.mu.Lock()
		if p.ch == ch {
			p.reset()
		}
		p.mu.Unlock()
		return fmt.Errorf("publish %s: %w", ev.RoutingKey(), err)
	}
	return nil
}

// current returns the open channel, dialing first when there is none.
func (p *Publisher) current(ctx context.Context) (channel, error) {
	p.mu.Lock()
	if p.ch != nil {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.dialing || p.now().Before(p.retryAt) {
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	p.dialing = true
	p.mu.Unlock()

	ch, closeFn, err := p.dial(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		p.retryAt = p.now().Add(p.redialAfter)
		return nil, err
	}
	p.ch, p.closeFn = ch, closeFn
	return ch, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	p.reset()
	return nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeFn != nil {
		p.closeFn()
	}
	p.ch, p.closeFn = nil, nil
}
