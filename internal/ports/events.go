package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// EventPublisher fans committed state changes out to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}
