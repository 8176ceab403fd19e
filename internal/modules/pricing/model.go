// README: Fare quote computed from a pickup/dropoff pair.
package pricing

import "math"

// Quote is the locally computed distance and price for a trip. DistanceKm is
// the raw great-circle distance; Price is already rounded to cents.
type Quote struct {
	DistanceKm float64 `json:"distance"`
	Price      float64 `json:"price"`
}

// DisplayDistance is DistanceKm rounded to two decimals, the precision the
// order store keeps.
func (q Quote) DisplayDistance() float64 {
	return round2(q.DistanceKm)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
