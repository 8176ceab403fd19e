// README: Order record, status machine and the progress rules applied to authoritative reads.
package order

import (
	"fmt"
	"math"
	"strings"
	"time"

	"ridesync/internal/modules/pricing"
	"ridesync/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllowedTransitions represents the order state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// rank orders statuses along the lifecycle; cancelled shares the terminal rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted:
		return 1
	case StatusCompleted, StatusCancelled:
		return 2
	}
	return -1
}

type CarType string

const (
	CarSedan     CarType = "Sedan"
	CarSUV       CarType = "SUV"
	CarHatchback CarType = "Hatchback"
	CarPickup    CarType = "Pickup"
	CarLuxury    CarType = "Luxury"
)

var CarTypes = []CarType{CarSedan, CarSUV, CarHatchback, CarPickup, CarLuxury}

// ParseCarType matches case-insensitively and returns the canonical spelling.
func ParseCarType(s string) (CarType, error) {
	s = strings.TrimSpace(s)
	for _, c := range CarTypes {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown car type %q", ErrValidation, s)
}

func (c CarType) Valid() bool {
	_, err := ParseCarType(string(c))
	return err == nil
}

// Party is the name/email summary of a rider or driver embedded in an order.
type Party struct {
	ID    types.ID
	Name  string
	Email string
}

type Order struct {
	ID         types.ID
	RiderID    types.ID
	Rider      *Party
	Pickup     types.Point
	Dropoff    types.Point
	DistanceKm float64
	Price      float64
	CarType    CarType
	Status     Status
	Arrived    bool
	DriverID   *types.ID
	Driver     *Party
	CreatedAt  time.Time
}

// Clone returns a deep copy so callers can hand out snapshots.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Rider != nil {
		r := *o.Rider
		c.Rider = &r
	}
	if o.DriverID != nil {
		d := *o.DriverID
		c.DriverID = &d
	}
	if o.Driver != nil {
		d := *o.Driver
		c.Driver = &d
	}
	return &c
}

// HeldBy reports whether driverID is the driver recorded on the order.
func (o *Order) HeldBy(driverID types.ID) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

// Claimed reports whether some driver holds the order.
func (o *Order) Claimed() bool {
	return o.DriverID != nil && *o.DriverID != ""
}

// Validate checks the record invariants every order read from the store must hold.
func (o *Order) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case !o.Status.Valid():
		return fmt.Errorf("%w: order %s has unknown status %q", ErrMalformed, o.ID, o.Status)
	case !pricing.ValidPoint(o.Pickup):
		return fmt.Errorf("%w: order %s has invalid pickup %v", ErrMalformed, o.ID, o.Pickup)
	case !pricing.ValidPoint(o.Dropoff):
		return fmt.Errorf("%w: order %s has invalid dropoff %v", ErrMalformed, o.ID, o.Dropoff)
	case o.DistanceKm < 0 || math.IsNaN(o.DistanceKm) || o.Price < 0 || math.IsNaN(o.Price):
		return fmt.Errorf("%w: order %s has negative distance or price", ErrMalformed, o.ID)
	case o.CarType != "" && !o.CarType.Valid():
		return fmt.Errorf("%w: order %s has unknown car type %q", ErrMalformed, o.ID, o.CarType)
	case o.Arrived && o.Status == StatusPending:
		return fmt.Errorf("%w: order %s arrived while pending", ErrMalformed, o.ID)
	case (o.Status == StatusAccepted || o.Status == StatusCompleted) && !o.Claimed():
		return fmt.Errorf("%w: order %s is %s without a driver", ErrMalformed, o.ID, o.Status)
	}
	return nil
}

// CheckProgress returns an error when next, a later read of the same order,
// would move it backwards relative to prev.
func CheckProgress(prev, next *Order) error {
	if prev == nil || next == nil || prev.ID != next.ID {
		return nil
	}
	if prev.Status.Terminal() && next.Status != prev.Status {
		return fmt.Errorf("%w: order %s left terminal status %s for %s", ErrInvalidState, next.ID, prev.Status, next.Status)
	}
	if next.Status.rank() < prev.Status.rank() {
		return fmt.Errorf("%w: order %s regressed from %s to %s", ErrInvalidState, next.ID, prev.Status, next.Status)
	}
	if prev.Arrived && !next.Arrived {
		return fmt.Errorf("%w: order %s lost its arrived flag", ErrInvalidState, next.ID)
	}
	if prev.Claimed() && (!next.Claimed() || *next.DriverID != *prev.DriverID) {
		return fmt.Errorf("%w: order %s changed driver", ErrInvalidState, next.ID)
	}
	return nil
}
