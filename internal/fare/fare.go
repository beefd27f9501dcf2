package fare

import "github.com/example/ambulance-dispatch/internal/models"

// Pricing is base + per-km with a class multiplier, minimum one kilometre.
// Pure function, snapshotted onto each offer at issue time.
const (
	base  = 200
	perKm = 25
)

var multiplier = map[models.VehicleClass]float64{
	models.ClassBLS: 1.0,
	models.ClassALS: 1.3,
	models.ClassNEO: 1.5,
}

func Estimate(distanceMeters int, class models.VehicleClass) int64 {
	km := float64(distanceMeters) / 1000.0
	if km < 1.0 {
		km = 1.0
	}
	mult, ok := multiplier[class]
	if !ok {
		mult = 1.0
	}
	return int64(base + perKm*km*mult)
}
