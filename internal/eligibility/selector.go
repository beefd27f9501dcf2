package eligibility

import (
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/models"
)

// Selector ranks candidate vehicles for a pickup. An empty result is a normal
// outcome, not an error; the broadcaster decides whether to retry or escalate.
type Selector struct {
	Roster  fleet.Roster
	RadiusM float64
}

// Candidates returns up to limit vehicles, nearest first, that are online,
// not busy, class-matched and inside the service radius, minus the exclusion
// set (vehicles that already declined this booking).
func (s *Selector) Candidates(pickup models.Location, class models.VehicleClass, exclude map[string]bool, limit int) []models.Vehicle {
	// overfetch so post-filtering still fills the cap
	fetch := limit * 4
	if fetch < 16 {
		fetch = 16
	}
	near := s.Roster.Nearby(pickup.Lat, pickup.Lng, s.RadiusM, fetch)
	out := make([]models.Vehicle, 0, limit)
	for _, v := range near {
		if !v.Online || v.Busy {
			continue
		}
		if v.Class != class {
			continue
		}
		if exclude[v.ID] {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
