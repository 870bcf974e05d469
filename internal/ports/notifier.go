package ports

import (
	"context"

	"github.com/alejandrodnm/updown/internal/domain"
)

// Notifier presenta el resultado de cada tick del keeper.
type Notifier interface {
	NotifyTick(ctx context.Context, tick domain.KeeperTick) error
}
