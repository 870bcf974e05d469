package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/updown/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultExchange = "updown.events"

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel and returns the connection that owns it.
type Dialer func(url string) (Channel, io.Closer, error)

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn, nil
}

// AMQPPublisher publishes events as JSON to a durable topic exchange, routed
// by event type. A failed publish drops the channel and redials once.
type AMQPPublisher struct {
	url      string
	exchange string
	dial     Dialer

	mu   sync.Mutex
	conn io.Closer
	ch   Channel
}

// NewAMQPPublisher connects to url and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	return NewAMQPPublisherWithDialer(url, exchange, DialAMQP)
}

func NewAMQPPublisherWithDialer(url, exchange string, dial Dialer) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("events: amqp url is empty")
	}
	if exchange == "" {
		exchange = defaultExchange
	}
	p := &AMQPPublisher{url: url, exchange: exchange, dial: dial}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("events.NewAMQPPublisher: %w", err)
	}
	slog.Info("connected to RabbitMQ", "exchange", exchange)
	return p, nil
}

// connect must run with mu held.
func (p *AMQPPublisher) connect() error {
	ch, conn, err := p.dial(p.url)
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.ch, p.conn = ch, conn
	return nil
}

// drop must run with mu held.
func (p *AMQPPublisher) drop() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events.Publish: marshal: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
		Type:         string(ev.Type),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if p.ch == nil {
			if err = p.connect(); err != nil {
				continue
			}
		}
		if err = p.ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, msg); err == nil {
			return nil
		}
		slog.Warn("amqp publish failed, reconnecting", "type", ev.Type, "attempt", attempt+1, "err", err)
		p.drop()
	}
	return fmt.Errorf("events.Publish %s: %w", ev.Type, err)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop()
	return nil
}
