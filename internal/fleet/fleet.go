package fleet

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Roster is the vehicle registry read by the eligibility selector and written
// by heartbeats (location/online) and by the engine (busy on win/trip-end).
type Roster interface {
	Upsert(v models.Vehicle)
	Get(id string) (models.Vehicle, bool)
	Nearby(lat, lng, radiusM float64, limit int) []models.Vehicle
	SetOnline(id string, online bool)
	SetBusy(id string, busy bool)
	OnlineCount() int
}

type Index struct {
	mu       sync.RWMutex
	vehicles map[string]models.Vehicle
}

func NewIndex() *Index {
	return &Index{vehicles: make(map[string]models.Vehicle)}
}

func (g *Index) Upsert(v models.Vehicle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.vehicles[v.ID]; ok {
		// heartbeats never flip assignment state
		v.Busy = prev.Busy
	}
	v.Updated = time.Now()
	g.vehicles[v.ID] = v
}

func (g *Index) Get(id string) (models.Vehicle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vehicles[id]
	return v, ok
}

// Nearby returns online vehicles within radiusM of the point, nearest first.
// Busy/class filtering is the selector's job; the roster only knows distance.
func (g *Index) Nearby(lat, lng, radiusM float64, limit int) []models.Vehicle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		v    models.Vehicle
		dist float64
	}
	arr := make([]pair, 0, len(g.vehicles))
	for _, v := range g.vehicles {
		if !v.Online {
			continue
		}
		dist := Haversine(lat, lng, v.Loc.Lat, v.Loc.Lng)
		if radiusM > 0 && dist > radiusM {
			continue
		}
		arr = append(arr, pair{v, dist})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && limit < len(arr) {
		arr = arr[:limit]
	}
	out := make([]models.Vehicle, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.v)
	}
	return out
}

func (g *Index) SetOnline(id string, online bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.vehicles[id]
	if !ok {
		v = models.Vehicle{ID: id}
	}
	v.Online = online
	v.Updated = time.Now()
	g.vehicles[id] = v
}

func (g *Index) SetBusy(id string, busy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.vehicles[id]
	if !ok {
		return
	}
	v.Busy = busy
	v.Updated = time.Now()
	g.vehicles[id] = v
}

func (g *Index) OnlineCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, v := range g.vehicles {
		if v.Online {
			n++
		}
	}
	return n
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
