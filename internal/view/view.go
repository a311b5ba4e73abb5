package view

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// Reader is the read-only slice of the entity store
type Reader interface {
	Driver(id string) (models.Driver, bool)
	Delivery(id string) (models.Delivery, bool)
	Drivers() []models.Driver
	Deliveries() []models.Delivery
}

// Selection remembers which entity the dispatcher is looking at. It only
// keeps the reference; the entity is resolved on every read.
type Selection struct {
	mu  sync.RWMutex
	ref *models.EntityRef
}

func (s *Selection) Select(ref models.EntityRef) {
	s.mu.Lock()
	s.ref = &ref
	s.mu.Unlock()
}

func (s *Selection) Deselect() {
	s.mu.Lock()
	s.ref = nil
	s.mu.Unlock()
}

// Toggle selects ref, or deselects it when it is already selected
func (s *Selection) Toggle(ref models.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ref != nil && *s.ref == ref {
		s.ref = nil
		return
	}
	s.ref = &ref
}

// Ref returns the selected reference, if any
func (s *Selection) Ref() (models.EntityRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ref == nil {
		return models.EntityRef{}, false
	}
	return *s.ref, true
}

// Selected is the resolved selection: exactly one of Driver and Delivery is set
type Selected struct {
	Ref      models.EntityRef `json:"ref"`
	Driver   *models.Driver   `json:"driver,omitempty"`
	Delivery *models.Delivery `json:"delivery,omitempty"`
}

// SelectedEntity resolves the selection against the current store. A
// selection whose entity has vanished resolves to nothing.
func SelectedEntity(r Reader, s *Selection) (Selected, bool) {
	ref, ok := s.Ref()
	if !ok {
		return Selected{}, false
	}
	switch ref.Kind {
	case models.KindDriver:
		if d, ok := r.Driver(ref.ID); ok {
			return Selected{Ref: ref, Driver: &d}, true
		}
	case models.KindDelivery:
		if d, ok := r.Delivery(ref.ID); ok {
			return Selected{Ref: ref, Delivery: &d}, true
		}
	}
	return Selected{}, false
}

type DriverFilter func(models.Driver) bool
type DriverLess func(a, b models.Driver) bool
type DeliveryFilter func(models.Delivery) bool
type DeliveryLess func(a, b models.Delivery) bool

// FilteredSortedDrivers returns the drivers matching filter, stably
// ordered by less. A nil filter keeps all; a nil less keeps store order.
func FilteredSortedDrivers(r Reader, filter DriverFilter, less DriverLess) []models.Driver {
	all := r.Drivers()
	out := make([]models.Driver, 0, len(all))
	for _, d := range all {
		if filter == nil || filter(d) {
			out = append(out, d)
		}
	}
	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// FilteredSortedDeliveries is FilteredSortedDrivers for deliveries
func FilteredSortedDeliveries(r Reader, filter DeliveryFilter, less DeliveryLess) []models.Delivery {
	all := r.Deliveries()
	out := make([]models.Delivery, 0, len(all))
	for _, d := range all {
		if filter == nil || filter(d) {
			out = append(out, d)
		}
	}
	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// AvailableDrivers keeps drivers who can take a new delivery
func AvailableDrivers(d models.Driver) bool {
	return d.IsAvailable()
}

// DriverStatusIs keeps drivers in any of the given statuses
func DriverStatusIs(statuses ...models.DriverStatus) DriverFilter {
	return func(d models.Driver) bool {
		for _, s := range statuses {
			if d.Status == s {
				return true
			}
		}
		return false
	}
}

// AssignableDeliveries keeps deliveries a dispatcher may still reassign
func AssignableDeliveries(d models.Delivery) bool {
	return d.Status == models.DeliveryStatusPending || d.Status == models.DeliveryStatusAssigned
}

// ActiveDeliveries keeps deliveries currently being carried
func ActiveDeliveries(d models.Delivery) bool {
	return d.Status.IsActive()
}

func ByName(a, b models.Driver) bool {
	return strings.ToLower(a.Name) < strings.ToLower(b.Name)
}

// ByLastUpdated puts the most recently updated driver first
func ByLastUpdated(a, b models.Driver) bool {
	return a.LastUpdated.After(b.LastUpdated)
}

// ByDistanceFrom orders drivers nearest to (lat, lng) first
func ByDistanceFrom(lat, lng float64) DriverLess {
	return func(a, b models.Driver) bool {
		return DistanceMeters(lat, lng, a.Location.Lat, a.Location.Lng) <
			DistanceMeters(lat, lng, b.Location.Lat, b.Location.Lng)
	}
}

const earthRadiusMeters = 6371000.0

// DistanceMeters is the haversine great-circle distance
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// ParseDriverQuery turns list query parameters into a filter and ordering.
// status is a comma separated list of driver statuses or "available";
// sort is "name", "updated" or "".
func ParseDriverQuery(status, sortBy string) (DriverFilter, DriverLess, error) {
	var filter DriverFilter
	if status != "" {
		if status == "available" {
			filter = AvailableDrivers
		} else {
			var statuses []models.DriverStatus
			for _, part := range strings.Split(status, ",") {
				s := models.DriverStatus(strings.TrimSpace(part))
				if !s.Valid() {
					return nil, nil, fmt.Errorf("unknown driver status %q", part)
				}
				statuses = append(statuses, s)
			}
			filter = DriverStatusIs(statuses...)
		}
	}

	var less DriverLess
	switch sortBy {
	case "":
	case "name":
		less = ByName
	case "updated":
		less = ByLastUpdated
	default:
		return nil, nil, fmt.Errorf("unknown sort %q", sortBy)
	}
	return filter, less, nil
}

// ParseDeliveryScope maps the deliveries scope parameter to a filter
func ParseDeliveryScope(scope string) (DeliveryFilter, error) {
	switch scope {
	case "", "all":
		return nil, nil
	case "assignable":
		return AssignableDeliveries, nil
	case "active":
		return ActiveDeliveries, nil
	}
	return nil, fmt.Errorf("unknown delivery scope %q", scope)
}

// DriverCurrentDelivery finds the active or assigned delivery held by driverID
func DriverCurrentDelivery(r Reader, driverID string) (models.Delivery, bool) {
	var assigned *models.Delivery
	for _, d := range r.Deliveries() {
		if d.AssignedTo() != driverID {
			continue
		}
		if d.Status.IsActive() {
			return d, true
		}
		if d.Status == models.DeliveryStatusAssigned && assigned == nil {
			c := d
			assigned = &c
		}
	}
	if assigned != nil {
		return *assigned, true
	}
	return models.Delivery{}, false
}
