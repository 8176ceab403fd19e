// README: Rider flow states and the immutable snapshot handed to the UI layer.
package rider

import (
	"errors"

	"ridesync/internal/modules/order"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/types"
)

type State int

const (
	SelectingPickup State = iota
	SelectingDropoff
	AwaitingCarTypeSelection
	AwaitingConfirmation
	Submitting
	AwaitingDriver
	Assigned
	Arrived
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case SelectingPickup:
		return "selecting_pickup"
	case SelectingDropoff:
		return "selecting_dropoff"
	case AwaitingCarTypeSelection:
		return "awaiting_car_type"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Submitting:
		return "submitting"
	case AwaitingDriver:
		return "awaiting_driver"
	case Assigned:
		return "assigned"
	case Arrived:
		return "arrived"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// drafting reports whether the order has not been sent yet. A failed
// submit keeps the draft.
func (s State) drafting() bool {
	return s <= AwaitingConfirmation || s == Failed
}

// tracking reports whether a submitted order is still live.
func (s State) tracking() bool {
	return s == AwaitingDriver || s == Assigned || s == Arrived
}

func (s State) terminal() bool {
	return s == Completed || s == Cancelled
}

var (
	ErrSelectionComplete = errors.New("pickup and dropoff already selected; reset to change them")
	ErrNoEstimator       = errors.New("no travel estimator configured")
)

// stateFor derives the rider state from the authoritative order.
func stateFor(o *order.Order) State {
	switch o.Status {
	case order.StatusAccepted:
		if o.Arrived {
			return Arrived
		}
		return Assigned
	case order.StatusCompleted:
		return Completed
	case order.StatusCancelled:
		return Cancelled
	}
	return AwaitingDriver
}

// Snapshot is a copy of the controller state; mutating it has no effect.
type Snapshot struct {
	State     State
	Pickup    *types.Point
	Dropoff   *types.Point
	Quote     *pricing.Quote
	CarType   order.CarType
	Order     *order.Order
	LastError error
}

// Driver returns the assigned driver summary, if any.
func (s Snapshot) Driver() *order.Party {
	if s.Order == nil {
		return nil
	}
	return s.Order.Driver
}
