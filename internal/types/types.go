// README: Common value objects shared by the rider, driver and store modules.
package types

import "fmt"

type ID string

func (id ID) String() string { return string(id) }

// Point is a map coordinate in decimal degrees. The JSON names match the
// order store payloads (pickupLocation / dropoffLocation).
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}
