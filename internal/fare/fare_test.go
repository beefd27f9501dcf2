package fare

import (
	"testing"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		name   string
		meters int
		class  models.VehicleClass
		want   int64
	}{
		{"bls 5km", 5000, models.ClassBLS, 325},
		{"als 5km", 5000, models.ClassALS, 362},
		{"neo 10km", 10000, models.ClassNEO, 575},
		{"short trip bills one km", 400, models.ClassBLS, 225},
		{"zero distance bills one km", 0, models.ClassNEO, 237},
		{"unknown class defaults to base multiplier", 5000, models.VehicleClass("X"), 325},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Estimate(c.meters, c.class); got != c.want {
				t.Fatalf("Estimate(%d, %s) = %d, want %d", c.meters, c.class, got, c.want)
			}
		})
	}
}

func TestEstimateMonotonicInDistance(t *testing.T) {
	prev := int64(0)
	for _, m := range []int{1000, 3000, 7000, 15000, 40000} {
		got := Estimate(m, models.ClassALS)
		if got <= prev {
			t.Fatalf("fare must grow with distance: %d m -> %d after %d", m, got, prev)
		}
		prev = got
	}
}
