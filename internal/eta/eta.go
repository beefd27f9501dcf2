package eta

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Route is a distance/duration estimate between two points. Geometry is an
// encoded polyline and may be empty (fallback estimates carry none).
type Route struct {
	DistanceMeters  int
	DurationSeconds int
	Geometry        string
}

// Client is the interface used by the engine to get route estimates.
type Client interface {
	EstimateRoute(from, to models.Location) (Route, error)
}

// Resolver wraps an optional routing client with a cache and a straight-line
// fallback so callers always get an estimate.
type Resolver struct {
	Client      Client // optional OSRM client
	Cache       *Cache // optional
	FallbackMps float64
}

func (r *Resolver) Route(from, to models.Location) Route {
	if r.Cache != nil {
		if v, ok := r.Cache.Get(from, to); ok {
			return v
		}
	}
	if r.Client != nil {
		if rt, err := r.Client.EstimateRoute(from, to); err == nil {
			if r.Cache != nil {
				r.Cache.Set(from, to, rt)
			}
			return rt
		}
	}
	return Fallback(from, to, r.FallbackMps)
}

// Fallback estimates over straight-line distance at speedMps
// (default ~30 km/h city speed).
func Fallback(from, to models.Location, speedMps float64) Route {
	if speedMps <= 0 {
		speedMps = 8.33
	}
	d := haversine(from.Lat, from.Lng, to.Lat, to.Lng)
	return Route{
		DistanceMeters:  int(d),
		DurationSeconds: int(d / speedMps),
	}
}

// Cache is a tiny in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  Route
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Location) string {
	return fmtLoc(a) + "->" + fmtLoc(b)
}

func fmtLoc(l models.Location) string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

func (c *Cache) Get(a, b models.Location) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Location, v Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// local haversine to avoid importing fleet
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
