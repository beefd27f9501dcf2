package eligibility

import (
	"testing"

	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/models"
)

func seed(idx *fleet.Index, id string, class models.VehicleClass, online, busy bool) {
	idx.Upsert(models.Vehicle{
		ID:     id,
		Class:  class,
		Loc:    models.Location{Lat: 13.05, Lng: 80.25},
		Online: online,
	})
	if busy {
		idx.SetBusy(id, true)
	}
}

func TestCandidatesFilters(t *testing.T) {
	idx := fleet.NewIndex()
	seed(idx, "als-free", models.ClassALS, true, false)
	seed(idx, "als-busy", models.ClassALS, true, true)
	seed(idx, "als-offline", models.ClassALS, false, false)
	seed(idx, "bls-free", models.ClassBLS, true, false)
	seed(idx, "als-declined", models.ClassALS, true, false)

	s := &Selector{Roster: idx, RadiusM: 8000}
	got := s.Candidates(models.Location{Lat: 13.05, Lng: 80.25}, models.ClassALS,
		map[string]bool{"als-declined": true}, 5)

	if len(got) != 1 || got[0].ID != "als-free" {
		t.Fatalf("expected only als-free, got %+v", got)
	}
}

func TestCandidatesHonorsLimit(t *testing.T) {
	idx := fleet.NewIndex()
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		seed(idx, id, models.ClassBLS, true, false)
	}
	s := &Selector{Roster: idx, RadiusM: 8000}
	got := s.Candidates(models.Location{Lat: 13.05, Lng: 80.25}, models.ClassBLS, nil, 5)
	if len(got) != 5 {
		t.Fatalf("expected fanout cap of 5, got %d", len(got))
	}
}

func TestCandidatesEmptyMarketIsNotAnError(t *testing.T) {
	s := &Selector{Roster: fleet.NewIndex(), RadiusM: 8000}
	got := s.Candidates(models.Location{Lat: 13.05, Lng: 80.25}, models.ClassNEO, nil, 5)
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %+v", got)
	}
}
