package pricing

import (
	"errors"
	"math"
	"testing"

	"ridesync/internal/types"
)

func TestDistance_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Latitude: 5.6037, Longitude: -0.1870},
			b:         types.Point{Latitude: 5.6037, Longitude: -0.1870},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Accra short hop (~2.5km)",
			a:         types.Point{Latitude: 5.60, Longitude: -0.19},
			b:         types.Point{Latitude: 5.61, Longitude: -0.17},
			wantKm:    2.50,
			tolerance: 0.05,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Latitude: 40.7128, Longitude: -74.0060},
			b:         types.Point{Latitude: 34.0522, Longitude: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
		{
			name:      "antipodal poles",
			a:         types.Point{Latitude: 90, Longitude: 0},
			b:         types.Point{Latitude: -90, Longitude: 0},
			wantKm:    math.Pi * earthRadiusKm,
			tolerance: 0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Default.Distance(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Distance() error = %v", err)
			}
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("Distance() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestDistance_Symmetry(t *testing.T) {
	pairs := [][2]types.Point{
		{{Latitude: 25.0, Longitude: 121.0}, {Latitude: 26.0, Longitude: 122.0}},
		{{Latitude: -33.86, Longitude: 151.2}, {Latitude: 51.5, Longitude: -0.12}},
		{{Latitude: 0, Longitude: 179.9}, {Latitude: 0, Longitude: -179.9}},
	}
	for _, p := range pairs {
		d1, _ := Default.Distance(p[0], p[1])
		d2, _ := Default.Distance(p[1], p[0])
		if math.Abs(d1-d2) > 1e-9 {
			t.Errorf("distance not symmetric for %v: %f vs %f", p, d1, d2)
		}
	}
}

func TestDistance_RejectsInvalidCoordinates(t *testing.T) {
	ok := types.Point{Latitude: 1, Longitude: 1}
	bad := []types.Point{
		{Latitude: math.NaN(), Longitude: 0},
		{Latitude: 0, Longitude: math.Inf(1)},
		{Latitude: 90.0001, Longitude: 0},
		{Latitude: 0, Longitude: -180.5},
	}
	for _, p := range bad {
		if _, err := Default.Distance(ok, p); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("Distance(%v) err = %v, want ErrInvalidCoordinate", p, err)
		}
		if _, err := Default.Quote(p, ok); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("Quote(%v) err = %v, want ErrInvalidCoordinate", p, err)
		}
	}
}

func TestPrice_IsRoundedRate(t *testing.T) {
	cases := []struct {
		km   float64
		want float64
	}{
		{0, 0},
		{1, 1.5},
		{2.476, 3.71},
		{2.478, 3.72},
		{10.333, 15.5},
	}
	for _, tc := range cases {
		if got := Default.Price(tc.km); got != tc.want {
			t.Errorf("Price(%v) = %v, want %v", tc.km, got, tc.want)
		}
	}
}

func TestQuote_PriceDerivedFromDistance(t *testing.T) {
	points := []types.Point{
		{Latitude: 5.60, Longitude: -0.19},
		{Latitude: 5.61, Longitude: -0.17},
		{Latitude: -12.5, Longitude: 130.8},
		{Latitude: 48.85, Longitude: 2.35},
		{Latitude: 89.9, Longitude: -179.9},
	}
	for i := range points {
		for j := range points {
			q, err := Default.Quote(points[i], points[j])
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}
			want := math.Round(q.DistanceKm*1.5*100) / 100
			if q.Price != want {
				t.Errorf("Quote(%v,%v).Price = %v, want %v", points[i], points[j], q.Price, want)
			}
			if !Default.Verify(points[i], points[j], q.DisplayDistance(), q.Price) {
				t.Errorf("Verify rejected its own quote for %v,%v", points[i], points[j])
			}
		}
	}
}

func TestQuote_AccraScenario(t *testing.T) {
	q, err := Default.Quote(types.Point{Latitude: 5.60, Longitude: -0.19}, types.Point{Latitude: 5.61, Longitude: -0.17})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if math.Abs(q.DisplayDistance()-2.50) > 0.05 {
		t.Errorf("distance = %v, want ≈2.50", q.DisplayDistance())
	}
	if math.Abs(q.Price-3.75) > 0.05 {
		t.Errorf("price = %v, want ≈3.75", q.Price)
	}
}

func TestNew_NonPositiveRateFallsBack(t *testing.T) {
	if got := New(0).RatePerKm(); got != DefaultRatePerKm {
		t.Errorf("RatePerKm = %v, want %v", got, DefaultRatePerKm)
	}
	if got := New(2).Price(2); got != 4 {
		t.Errorf("Price = %v, want 4", got)
	}
}
