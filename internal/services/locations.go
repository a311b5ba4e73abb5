package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/store"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/view"
)

// NearbyDriver is an available driver returned by a radius search
type NearbyDriver struct {
	DriverID       string  `json:"driverId"`
	DistanceMeters float64 `json:"distanceMeters"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
}

// DriverIndex holds the positions of drivers that can take a delivery
type DriverIndex interface {
	Upsert(ctx context.Context, driverID string, loc models.Location) error
	Remove(ctx context.Context, driverID string) error
	Clear(ctx context.Context) error
	Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]NearbyDriver, error)
}

// RedisDriverIndex keeps available drivers in a Redis GEO set
type RedisDriverIndex struct {
	rdb *redis.Client
	key string
}

func NewRedisDriverIndex(rdb *redis.Client, fleet string) *RedisDriverIndex {
	return &RedisDriverIndex{rdb: rdb, key: redisKey(fleet)}
}

func redisKey(fleet string) string {
	fleet = strings.ToLower(strings.TrimSpace(fleet))
	if fleet == "" {
		fleet = "default"
	}
	return fmt.Sprintf("drivers:%s:available", fleet)
}

func memberName(driverID string) string {
	return "driver:" + driverID
}

func parseDriverMember(member string) (string, error) {
	id, ok := strings.CutPrefix(member, "driver:")
	if !ok || id == "" {
		return "", fmt.Errorf("invalid member %q", member)
	}
	return id, nil
}

func (i *RedisDriverIndex) Upsert(ctx context.Context, driverID string, loc models.Location) error {
	if loc.Lng < -180 || loc.Lng > 180 || loc.Lat < -90 || loc.Lat > 90 {
		return fmt.Errorf("invalid coords lon=%.8f lat=%.8f", loc.Lng, loc.Lat)
	}
	return i.rdb.GeoAdd(ctx, i.key, &redis.GeoLocation{
		Name:      memberName(driverID),
		Longitude: loc.Lng,
		Latitude:  loc.Lat,
	}).Err()
}

func (i *RedisDriverIndex) Remove(ctx context.Context, driverID string) error {
	return i.rdb.ZRem(ctx, i.key, memberName(driverID)).Err()
}

func (i *RedisDriverIndex) Clear(ctx context.Context) error {
	return i.rdb.Del(ctx, i.key).Err()
}

// Nearby returns drivers within radius sorted by distance
func (i *RedisDriverIndex) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]NearbyDriver, error) {
	res, err := i.rdb.GeoSearchLocation(ctx, i.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	drivers := make([]NearbyDriver, 0, len(res))
	for _, item := range res {
		id, err := parseDriverMember(item.Name)
		if err != nil {
			continue
		}
		drivers = append(drivers, NearbyDriver{
			DriverID:       id,
			DistanceMeters: item.Dist,
			Lat:            item.Latitude,
			Lng:            item.Longitude,
		})
	}
	return drivers, nil
}

// MemoryDriverIndex is the in-process DriverIndex used when Redis is not configured
type MemoryDriverIndex struct {
	mu        sync.RWMutex
	locations map[string]models.Location
}

func NewMemoryDriverIndex() *MemoryDriverIndex {
	return &MemoryDriverIndex{locations: make(map[string]models.Location)}
}

func (i *MemoryDriverIndex) Upsert(ctx context.Context, driverID string, loc models.Location) error {
	i.mu.Lock()
	i.locations[driverID] = loc
	i.mu.Unlock()
	return nil
}

func (i *MemoryDriverIndex) Remove(ctx context.Context, driverID string) error {
	i.mu.Lock()
	delete(i.locations, driverID)
	i.mu.Unlock()
	return nil
}

func (i *MemoryDriverIndex) Clear(ctx context.Context) error {
	i.mu.Lock()
	i.locations = make(map[string]models.Location)
	i.mu.Unlock()
	return nil
}

func (i *MemoryDriverIndex) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]NearbyDriver, error) {
	i.mu.RLock()
	var out []NearbyDriver
	for id, loc := range i.locations {
		dist := view.DistanceMeters(lat, lng, loc.Lat, loc.Lng)
		if dist <= radiusMeters {
			out = append(out, NearbyDriver{DriverID: id, DistanceMeters: dist, Lat: loc.Lat, Lng: loc.Lng})
		}
	}
	i.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].DistanceMeters == out[b].DistanceMeters {
			return out[a].DriverID < out[b].DriverID
		}
		return out[a].DistanceMeters < out[b].DistanceMeters
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LocationTracker mirrors available drivers from the store change feed
// into a DriverIndex. Observe never blocks; Run does the index writes.
type LocationTracker struct {
	index  DriverIndex
	reader view.Reader
	log    logging.Logger
	queue  chan store.Change
}

func NewLocationTracker(index DriverIndex, reader view.Reader, log logging.Logger) *LocationTracker {
	return &LocationTracker{index: index, reader: reader, log: log, queue: make(chan store.Change, 256)}
}

// Observe is a store subscriber
func (t *LocationTracker) Observe(c store.Change) {
	if c.Ref.Kind != models.KindDriver {
		return
	}
	select {
	case t.queue <- c:
	default:
		// index catches up on the next reset
		t.log.Errorf("⚠️ [LOCATIONS] queue full, dropping change for %s", c.Ref)
	}
}

// Run applies queued changes until ctx ends
func (t *LocationTracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-t.queue:
			if err := t.apply(ctx, c); err != nil {
				t.log.Errorf("❌ [LOCATIONS] %s: %v", c.Ref, err)
			}
		}
	}
}

func (t *LocationTracker) apply(ctx context.Context, c store.Change) error {
	if c.Reset {
		return t.Resync(ctx)
	}
	if c.Driver == nil {
		return nil
	}
	if c.Driver.IsAvailable() {
		return t.index.Upsert(ctx, c.Driver.ID, c.Driver.Location)
	}
	return t.index.Remove(ctx, c.Driver.ID)
}

// Resync rebuilds the index from the store
func (t *LocationTracker) Resync(ctx context.Context) error {
	if err := t.index.Clear(ctx); err != nil {
		return err
	}
	for _, d := range view.FilteredSortedDrivers(t.reader, view.AvailableDrivers, nil) {
		if err := t.index.Upsert(ctx, d.ID, d.Location); err != nil {
			return err
		}
	}
	return nil
}

// Nearby lists available drivers within radiusMeters of (lat, lng)
func (t *LocationTracker) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]NearbyDriver, error) {
	return t.index.Nearby(ctx, lat, lng, radiusMeters, limit)
}
