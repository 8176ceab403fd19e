// README: Pricing calculator derives trip distance and fare from two map points.
package pricing

import (
	"errors"
	"fmt"

	"ridesync/internal/types"
)

// DefaultRatePerKm is the fare per kilometre applied to every car type.
const DefaultRatePerKm = 1.5

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Calculator is stateless apart from its rate; the zero value is not usable,
// use New or Default.
type Calculator struct {
	ratePerKm float64
}

var Default = New(DefaultRatePerKm)

func New(ratePerKm float64) *Calculator {
	if ratePerKm <= 0 {
		ratePerKm = DefaultRatePerKm
	}
	return &Calculator{ratePerKm: ratePerKm}
}

func (c *Calculator) RatePerKm() float64 { return c.ratePerKm }

// Distance returns the haversine distance between a and b in kilometres.
func (c *Calculator) Distance(a, b types.Point) (float64, error) {
	if !ValidPoint(a) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCoordinate, a)
	}
	if !ValidPoint(b) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCoordinate, b)
	}
	return haversineKm(a, b), nil
}

// Price converts a distance to a fare rounded to two decimals.
func (c *Calculator) Price(km float64) float64 {
	return round2(km * c.ratePerKm)
}

func (c *Calculator) Quote(pickup, dropoff types.Point) (Quote, error) {
	km, err := c.Distance(pickup, dropoff)
	if err != nil {
		return Quote{}, err
	}
	return Quote{DistanceKm: km, Price: c.Price(km)}, nil
}

// Verify reports whether the cached distance and price of an order still
// match what the calculator derives from its endpoints, to cent precision.
func (c *Calculator) Verify(pickup, dropoff types.Point, distanceKm, price float64) bool {
	q, err := c.Quote(pickup, dropoff)
	if err != nil {
		return false
	}
	return round2(q.DistanceKm) == round2(distanceKm) && q.Price == round2(price)
}
