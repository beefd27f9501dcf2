package fleet

import (
	"math"
	"testing"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestHaversine(t *testing.T) {
	// Chennai Central to Marina Beach, roughly 3km
	d := Haversine(13.0827, 80.2757, 13.0500, 80.2824)
	if d < 2500 || d > 4500 {
		t.Fatalf("unexpected distance %f", d)
	}
	if z := Haversine(13.05, 80.25, 13.05, 80.25); z != 0 {
		t.Fatalf("zero distance expected, got %f", z)
	}
}

func TestNearbyOrdersByDistanceAndFiltersOffline(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Vehicle{ID: "far", Online: true, Loc: models.Location{Lat: 13.20, Lng: 80.30}})
	idx.Upsert(models.Vehicle{ID: "near", Online: true, Loc: models.Location{Lat: 13.051, Lng: 80.251}})
	idx.Upsert(models.Vehicle{ID: "mid", Online: true, Loc: models.Location{Lat: 13.09, Lng: 80.26}})
	idx.Upsert(models.Vehicle{ID: "off", Online: false, Loc: models.Location{Lat: 13.050, Lng: 80.250}})

	got := idx.Nearby(13.05, 80.25, 50000, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 online vehicles, got %d", len(got))
	}
	want := []string{"near", "mid", "far"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, got[i].ID)
		}
	}

	// a tight radius drops the far ones
	got = idx.Nearby(13.05, 80.25, 1000, 10)
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("radius filter failed: %+v", got)
	}

	// limit truncates after sorting
	got = idx.Nearby(13.05, 80.25, 50000, 2)
	if len(got) != 2 || got[1].ID != "mid" {
		t.Fatalf("limit failed: %+v", got)
	}
}

func TestUpsertPreservesBusy(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Vehicle{ID: "amb-1", Online: true, Class: models.ClassALS})
	idx.SetBusy("amb-1", true)

	// a heartbeat carries no assignment state
	idx.Upsert(models.Vehicle{ID: "amb-1", Online: true, Class: models.ClassALS, Loc: models.Location{Lat: 13.06, Lng: 80.26}})

	v, ok := idx.Get("amb-1")
	if !ok || !v.Busy {
		t.Fatalf("busy flag lost on heartbeat: %+v", v)
	}
	if math.Abs(v.Loc.Lat-13.06) > 1e-9 {
		t.Fatalf("location not updated: %+v", v.Loc)
	}
}

func TestSetOnlineCreatesAndCounts(t *testing.T) {
	idx := NewIndex()
	idx.SetOnline("amb-1", true)
	idx.SetOnline("amb-2", true)
	idx.SetOnline("amb-2", false)

	if n := idx.OnlineCount(); n != 1 {
		t.Fatalf("expected 1 online, got %d", n)
	}
	if _, ok := idx.Get("amb-1"); !ok {
		t.Fatal("SetOnline should create unknown vehicles")
	}
}

func TestSetBusyIgnoresUnknown(t *testing.T) {
	idx := NewIndex()
	idx.SetBusy("ghost", true)
	if _, ok := idx.Get("ghost"); ok {
		t.Fatal("SetBusy must not create vehicles")
	}
}
