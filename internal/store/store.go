package store

import (
	"sync"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// Entity is a driver or a delivery
type Entity interface {
	Ref() models.EntityRef
}

// Change describes one effective write. Reset is set after a full replace
// of a kind, in which case Ref.ID is empty and the entity fields are nil.
type Change struct {
	Ref      models.EntityRef
	Driver   *models.Driver
	Delivery *models.Delivery
	Reset    bool
}

// LoadState is the store-wide status of the initial fetch
type LoadState struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Store holds the current known state of every driver and delivery.
// Writers are expected to be serialized by the caller; the lock only
// protects readers on other goroutines.
type Store struct {
	mu            sync.RWMutex
	drivers       map[string]*models.Driver
	driverOrder   []string
	deliveries    map[string]*models.Delivery
	deliveryOrder []string
	load          LoadState

	subMu sync.RWMutex
	subs  []func(Change)
}

// New creates an empty store
func New() *Store {
	return &Store{
		drivers:    make(map[string]*models.Driver),
		deliveries: make(map[string]*models.Delivery),
	}
}

// Subscribe registers fn to receive every change after it is applied.
// fn runs on the writer's goroutine and must not write to the store.
func (s *Store) Subscribe(fn func(Change)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) publish(c Change) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(c)
	}
}

// Get returns a copy of the entity, or false if it is absent
func (s *Store) Get(kind models.EntityKind, id string) (Entity, bool) {
	switch kind {
	case models.KindDriver:
		d, ok := s.Driver(id)
		if !ok {
			return nil, false
		}
		return d, true
	case models.KindDelivery:
		d, ok := s.Delivery(id)
		if !ok {
			return nil, false
		}
		return d, true
	}
	return nil, false
}

// Driver returns a copy of driver id
func (s *Store) Driver(id string) (models.Driver, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return models.Driver{}, false
	}
	return d.Clone(), true
}

// Delivery returns a copy of delivery id
func (s *Store) Delivery(id string) (models.Delivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return models.Delivery{}, false
	}
	return d.Clone(), true
}

// Drivers returns copies of all drivers in load order
func (s *Store) Drivers() []models.Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Driver, 0, len(s.driverOrder))
	for _, id := range s.driverOrder {
		out = append(out, s.drivers[id].Clone())
	}
	return out
}

// Deliveries returns copies of all deliveries in load order
func (s *Store) Deliveries() []models.Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Delivery, 0, len(s.deliveryOrder))
	for _, id := range s.deliveryOrder {
		out = append(out, s.deliveries[id].Clone())
	}
	return out
}

// UpsertAll replaces every entity of kind with entities. Entities of
// another kind are ignored.
func (s *Store) UpsertAll(kind models.EntityKind, entities []Entity) {
	switch kind {
	case models.KindDriver:
		drivers := make([]models.Driver, 0, len(entities))
		for _, e := range entities {
			switch d := e.(type) {
			case models.Driver:
				drivers = append(drivers, d)
			case *models.Driver:
				drivers = append(drivers, *d)
			}
		}
		s.ReplaceDrivers(drivers)
	case models.KindDelivery:
		deliveries := make([]models.Delivery, 0, len(entities))
		for _, e := range entities {
			switch d := e.(type) {
			case models.Delivery:
				deliveries = append(deliveries, d)
			case *models.Delivery:
				deliveries = append(deliveries, *d)
			}
		}
		s.ReplaceDeliveries(deliveries)
	}
}

// ReplaceDrivers swaps the full driver set. A repeated id keeps its first position.
func (s *Store) ReplaceDrivers(drivers []models.Driver) {
	s.mu.Lock()
	s.drivers = make(map[string]*models.Driver, len(drivers))
	s.driverOrder = make([]string, 0, len(drivers))
	for _, d := range drivers {
		if _, seen := s.drivers[d.ID]; !seen {
			s.driverOrder = append(s.driverOrder, d.ID)
		}
		c := d.Clone()
		s.drivers[d.ID] = &c
	}
	s.mu.Unlock()

	s.publish(Change{Ref: models.EntityRef{Kind: models.KindDriver}, Reset: true})
}

// ReplaceDeliveries swaps the full delivery set
func (s *Store) ReplaceDeliveries(deliveries []models.Delivery) {
	s.mu.Lock()
	s.deliveries = make(map[string]*models.Delivery, len(deliveries))
	s.deliveryOrder = make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		if _, seen := s.deliveries[d.ID]; !seen {
			s.deliveryOrder = append(s.deliveryOrder, d.ID)
		}
		c := d.Clone()
		s.deliveries[d.ID] = &c
	}
	s.mu.Unlock()

	s.publish(Change{Ref: models.EntityRef{Kind: models.KindDelivery}, Reset: true})
}

// Stale reports whether Patch would drop p for carrying an older
// LastUpdated than the stored driver
func (s *Store) Stale(p models.Patch) bool {
	if p.Ref.Kind != models.KindDriver {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, found := s.drivers[p.Ref.ID]
	return found && staleDriver(d, p)
}

func staleDriver(d *models.Driver, p models.Patch) bool {
	return !p.Restore && p.Driver != nil && p.Driver.LastUpdated != nil && p.Driver.LastUpdated.Before(d.LastUpdated)
}

// Patch applies a partial update to one entity and returns the inverse
// patch holding the previous value of every touched field. ok is false
// when the entity is unknown, in which case nothing changes.
//
// A driver patch whose LastUpdated is older than the stored one is stale
// and is dropped whole, unless it is a restore.
func (s *Store) Patch(p models.Patch) (inverse models.Patch, ok bool) {
	inverse = models.Patch{Ref: p.Ref, Restore: true}

	s.mu.Lock()
	var change Change
	switch p.Ref.Kind {
	case models.KindDriver:
		d, found := s.drivers[p.Ref.ID]
		if !found {
			s.mu.Unlock()
			return models.Patch{}, false
		}
		if p.Driver == nil || p.Driver.Empty() {
			s.mu.Unlock()
			inverse.Driver = &models.DriverPatch{}
			return inverse, true
		}
		if staleDriver(d, p) {
			s.mu.Unlock()
			inverse.Driver = &models.DriverPatch{}
			return inverse, true
		}
		inv := patchDriver(d, *p.Driver)
		inverse.Driver = &inv
		c := d.Clone()
		change = Change{Ref: p.Ref, Driver: &c}
	case models.KindDelivery:
		d, found := s.deliveries[p.Ref.ID]
		if !found {
			s.mu.Unlock()
			return models.Patch{}, false
		}
		if p.Delivery == nil || p.Delivery.Empty() {
			s.mu.Unlock()
			inverse.Delivery = &models.DeliveryPatch{}
			return inverse, true
		}
		inv := patchDelivery(d, *p.Delivery)
		inverse.Delivery = &inv
		c := d.Clone()
		change = Change{Ref: p.Ref, Delivery: &c}
	default:
		s.mu.Unlock()
		return models.Patch{}, false
	}
	s.mu.Unlock()

	s.publish(change)
	return inverse, true
}

// Holding reports, per touched field of p, whether the entity currently
// holds exactly the value p would write.
func (s *Store) Holding(p models.Patch) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case p.Ref.Kind == models.KindDriver && p.Driver != nil:
		if d, ok := s.drivers[p.Ref.ID]; ok {
			return driverHolding(*d, *p.Driver)
		}
	case p.Ref.Kind == models.KindDelivery && p.Delivery != nil:
		if d, ok := s.deliveries[p.Ref.ID]; ok {
			return deliveryHolding(*d, *p.Delivery)
		}
	}
	return map[string]bool{}
}

// SetLoading marks the initial fetch as started or finished
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.load.Loading = loading
	if loading {
		s.load.Error = ""
	}
	s.mu.Unlock()
}

// SetLoadError records a store-wide fetch failure. Entities are untouched.
func (s *Store) SetLoadError(err error) {
	s.mu.Lock()
	s.load.Loading = false
	if err != nil {
		s.load.Error = err.Error()
	} else {
		s.load.Error = ""
	}
	s.mu.Unlock()
}

// LoadState returns the store-wide fetch status
func (s *Store) LoadState() LoadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load
}
