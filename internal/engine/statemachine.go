package engine

import "github.com/example/ambulance-dispatch/internal/models"

// forward is the single legal path through the trip lifecycle. No skipping:
// a transition request naming a non-adjacent target is rejected outright.
var forward = map[models.BookingStatus]models.BookingStatus{
	models.StatusRequested:  models.StatusOffering,
	models.StatusOffering:   models.StatusAccepted,
	models.StatusAccepted:   models.StatusEnroute,
	models.StatusEnroute:    models.StatusAtPickup,
	models.StatusAtPickup:   models.StatusToHospital,
	models.StatusToHospital: models.StatusCompleted,
}

// driverTransition reports whether the assigned vehicle may move the booking
// from from to to. REQUESTED→OFFERING is automatic and OFFERING→ACCEPTED is
// owned by claim arbitration, so neither is driver-commandable.
func driverTransition(from, to models.BookingStatus) bool {
	next, ok := forward[from]
	if !ok || next != to {
		return false
	}
	switch to {
	case models.StatusEnroute, models.StatusAtPickup, models.StatusToHospital, models.StatusCompleted:
		return true
	}
	return false
}
