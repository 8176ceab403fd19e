// README: Ride history for riders and drivers, newest first.
package history

import (
	"context"
	"sort"

	"ridesync/internal/modules/order"
	"ridesync/internal/types"
)

// Source is the slice of the order client history needs.
type Source interface {
	ListByRider(ctx context.Context, riderID types.ID) ([]*order.Order, error)
	DriverHistory(ctx context.Context, driverID types.ID) ([]*order.Order, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service {
	return &Service{src: src}
}

func (s *Service) Rider(ctx context.Context, riderID types.ID) ([]*order.Order, error) {
	orders, err := s.src.ListByRider(ctx, riderID)
	if err != nil {
		return nil, err
	}
	return newestFirst(orders), nil
}

func (s *Service) Driver(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	orders, err := s.src.DriverHistory(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return newestFirst(orders), nil
}

// newestFirst sorts by createdAt descending. Records without a timestamp keep
// the store's order, reversed, after the dated ones.
func newestFirst(orders []*order.Order) []*order.Order {
	out := make([]*order.Order, len(orders))
	for i, o := range orders {
		out[len(orders)-1-i] = o
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		}
		return a.After(b)
	})
	return out
}

type Totals struct {
	Rides      int
	Completed  int
	Cancelled  int
	DistanceKm float64
	Fare       float64
}

// Summarize adds up completed rides' distance and fare.
func Summarize(orders []*order.Order) Totals {
	var t Totals
	for _, o := range orders {
		t.Rides++
		switch o.Status {
		case order.StatusCompleted:
			t.Completed++
			t.DistanceKm += o.DistanceKm
			t.Fare += o.Price
		case order.StatusCancelled:
			t.Cancelled++
		}
	}
	return t
}
