// README: Driver board entries: authoritative order plus an optional local overlay.
package driver

import (
	"time"

	"go.uber.org/zap"

	"ridesync/internal/modules/order"
	"ridesync/internal/types"
)

type Config struct {
	DriverID     types.ID
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Entry pairs the last authoritative order with a local overlay that is
// shown until the next poll or write response.
type Entry struct {
	Confirmed  *order.Order
	Optimistic *order.Order
}

// View is the order as the driver should see it.
func (e *Entry) View() *order.Order {
	if e.Optimistic != nil {
		return e.Optimistic
	}
	return e.Confirmed
}
