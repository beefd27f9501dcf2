package hospitals

import (
	"sort"
	"strings"
	"sync"

	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/models"
)

type Hospital struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Location     models.Location `json:"location"`
	Capabilities []string        `json:"capabilities"`
	DistanceKm   float64         `json:"distance_km,omitempty"`
}

// Directory is a read-mostly hospital roster with capability filtering.
type Directory struct {
	mu   sync.RWMutex
	byID map[string]Hospital
}

func NewDirectory(seed []Hospital) *Directory {
	d := &Directory{byID: make(map[string]Hospital, len(seed))}
	for _, h := range seed {
		d.byID[h.ID] = h
	}
	return d
}

func (d *Directory) Get(id string) (Hospital, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.byID[id]
	return h, ok
}

// List returns hospitals matching any of the needed capabilities, sorted by
// distance from near when given. An empty needs slice matches everything.
func (d *Directory) List(near *models.Location, needs []string) []Hospital {
	want := make(map[string]bool, len(needs))
	for _, n := range needs {
		if n = strings.TrimSpace(n); n != "" {
			want[strings.ToUpper(n)] = true
		}
	}
	d.mu.RLock()
	out := make([]Hospital, 0, len(d.byID))
	for _, h := range d.byID {
		if len(want) > 0 && !hasAny(h.Capabilities, want) {
			continue
		}
		if near != nil {
			h.DistanceKm = fleet.Haversine(near.Lat, near.Lng, h.Location.Lat, h.Location.Lng) / 1000.0
		}
		out = append(out, h)
	}
	d.mu.RUnlock()
	if near != nil {
		sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}

func hasAny(caps []string, want map[string]bool) bool {
	for _, c := range caps {
		if want[strings.ToUpper(c)] {
			return true
		}
	}
	return false
}

// Seed returns the default metro directory used when no external source is
// configured.
func Seed() []Hospital {
	return []Hospital{
		{ID: "h1", Name: "Apollo Hospital", Capabilities: []string{"ICU", "NEO", "TRAUMA"}, Location: models.Location{Lat: 13.0475, Lng: 80.2565}},
		{ID: "h2", Name: "Fortis Malar Hospital", Capabilities: []string{"ICU", "CARDIO"}, Location: models.Location{Lat: 13.0569, Lng: 80.2481}},
		{ID: "h3", Name: "MIOT International", Capabilities: []string{"TRAUMA", "NEO"}, Location: models.Location{Lat: 13.0332, Lng: 80.2358}},
		{ID: "h4", Name: "Stanley Medical College", Capabilities: []string{"TRAUMA", "ICU"}, Location: models.Location{Lat: 13.0978, Lng: 80.2860}},
	}
}
