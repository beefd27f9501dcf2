package engine

import (
	"testing"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestDriverTransitions(t *testing.T) {
	allowed := []struct{ from, to models.BookingStatus }{
		{models.StatusAccepted, models.StatusEnroute},
		{models.StatusEnroute, models.StatusAtPickup},
		{models.StatusAtPickup, models.StatusToHospital},
		{models.StatusToHospital, models.StatusCompleted},
	}
	for _, c := range allowed {
		if !driverTransition(c.from, c.to) {
			t.Errorf("%s -> %s should be driver-commandable", c.from, c.to)
		}
	}

	denied := []struct{ from, to models.BookingStatus }{
		{models.StatusRequested, models.StatusOffering},  // engine-owned
		{models.StatusOffering, models.StatusAccepted},   // claim-owned
		{models.StatusAccepted, models.StatusAtPickup},   // skips ENROUTE
		{models.StatusEnroute, models.StatusCompleted},   // skips two states
		{models.StatusToHospital, models.StatusAtPickup}, // backwards
		{models.StatusCompleted, models.StatusEnroute},   // terminal
		{models.StatusCanceled, models.StatusEnroute},    // terminal
		{models.StatusAccepted, models.StatusCanceled},   // cancel has its own path
	}
	for _, c := range denied {
		if driverTransition(c.from, c.to) {
			t.Errorf("%s -> %s must not be driver-commandable", c.from, c.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []models.BookingStatus{
		models.StatusRequested, models.StatusOffering, models.StatusAccepted,
		models.StatusEnroute, models.StatusAtPickup, models.StatusToHospital,
	} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !models.StatusCompleted.Terminal() || !models.StatusCanceled.Terminal() {
		t.Error("COMPLETED and CANCELED are terminal")
	}
}
