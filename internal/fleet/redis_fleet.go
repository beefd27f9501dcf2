package fleet

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/models"
)

// RedisFleet implements Roster using Redis GEO commands plus a metadata hash
// per vehicle. Positions come in through the heartbeat consumer; the engine
// only flips flags.
type RedisFleet struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisFleet(addr, password, key string) *RedisFleet {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisFleet{client: c, key: key, ctx: context.Background()}
}

func (r *RedisFleet) Upsert(v models.Vehicle) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: v.Loc.Lng, Latitude: v.Loc.Lat, Name: v.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(v.ID), map[string]interface{}{
		"class":        string(v.Class),
		"registration": v.Registration,
		"online":       strconv.FormatBool(v.Online),
		"rating":       strconv.FormatFloat(v.Rating, 'f', -1, 64),
		"updated":      time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisFleet) Get(id string) (models.Vehicle, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, id).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Vehicle{}, false
	}
	v := models.Vehicle{ID: id}
	v.Loc.Lat = pos[0].Latitude
	v.Loc.Lng = pos[0].Longitude
	r.fillMeta(&v)
	return v, true
}

func (r *RedisFleet) Nearby(lat, lng, radiusM float64, limit int) []models.Vehicle {
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Vehicle, 0, len(res))
	for _, g := range res {
		v := models.Vehicle{ID: g.Name}
		v.Loc.Lat = g.Latitude
		v.Loc.Lng = g.Longitude
		r.fillMeta(&v)
		if !v.Online {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (r *RedisFleet) SetOnline(id string, online bool) {
	_ = r.client.HSet(r.ctx, metaKey(id), "online", strconv.FormatBool(online)).Err()
}

func (r *RedisFleet) SetBusy(id string, busy bool) {
	_ = r.client.HSet(r.ctx, metaKey(id), "busy", strconv.FormatBool(busy)).Err()
}

func (r *RedisFleet) OnlineCount() int {
	// approximation: count members with online=true; fine for the dashboard
	ids, err := r.client.ZRange(r.ctx, r.key, 0, -1).Result()
	if err != nil {
		return 0
	}
	n := 0
	for _, id := range ids {
		if v, err := r.client.HGet(r.ctx, metaKey(id), "online").Result(); err == nil && v == "true" {
			n++
		}
	}
	return n
}

func (r *RedisFleet) fillMeta(v *models.Vehicle) {
	m, err := r.client.HGetAll(r.ctx, metaKey(v.ID)).Result()
	if err != nil {
		return
	}
	if s, ok := m["class"]; ok {
		v.Class = models.VehicleClass(s)
	}
	if s, ok := m["registration"]; ok {
		v.Registration = s
	}
	if s, ok := m["online"]; ok {
		v.Online = s == "true"
	}
	if s, ok := m["busy"]; ok {
		v.Busy = s == "true"
	}
	if s, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			v.Rating = f
		}
	}
}

func metaKey(id string) string { return "vehicle:meta:" + id }
