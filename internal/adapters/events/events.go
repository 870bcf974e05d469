// Package events publishes committed engine state changes.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Publisher is an EventPublisher that owns a connection.
type Publisher interface {
	ports.EventPublisher
	Close() error
}

// Config selects the driver: "log", "amqp" or "none".
type Config struct {
	Driver   string
	AMQPURL  string
	Exchange string
}

// New builds the publisher for cfg.Driver.
func New(cfg Config) (Publisher, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "log":
		return NewLogPublisher(slog.Default()), nil
	case "none":
		return Noop{}, nil
	case "amqp":
		return NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
	}
	return nil, fmt.Errorf("events.New: unknown driver %q", cfg.Driver)
}

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, ev domain.Event) error {
	attrs := []any{"type", ev.Type, "round_id", ev.RoundID, "event_id", ev.ID}
	if ev.User != "" {
		attrs = append(attrs, "user", ev.User)
	}
	for k, v := range ev.Data {
		attrs = append(attrs, k, v)
	}
	p.log.InfoContext(ctx, "event", attrs...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, domain.Event) error { return nil }
func (Noop) Close() error                                { return nil }
