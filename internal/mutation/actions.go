package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// Backend confirms dispatcher actions against the system of record
type Backend interface {
	ReassignDelivery(ctx context.Context, deliveryID, driverID string) error
	CompleteDelivery(ctx context.Context, deliveryID string, at time.Time) error
	SetDriverPaused(ctx context.Context, driverID string, paused bool) error
}

// Dispatcher turns the three dispatcher actions into optimistic mutations.
// Its methods read the store and must run on the store's event loop.
type Dispatcher struct {
	coord   *Coordinator
	store   Store
	backend Backend
	now     func() time.Time
}

func NewDispatcher(coord *Coordinator, store Store, backend Backend) *Dispatcher {
	return &Dispatcher{coord: coord, store: store, backend: backend, now: time.Now}
}

// ReassignDelivery assigns deliveryID to driverID, releasing the previous driver
func (d *Dispatcher) ReassignDelivery(ctx context.Context, deliveryID, driverID string) (*Ticket, error) {
	if deliveryID == "" {
		return nil, &ValidationError{Message: "select a delivery to reassign"}
	}
	if driverID == "" {
		return nil, &ValidationError{Message: "select a driver to assign"}
	}

	delivery, ok := d.store.Delivery(deliveryID)
	if !ok {
		return nil, &NotFoundError{Ref: models.DeliveryRef(deliveryID)}
	}
	driver, ok := d.store.Driver(driverID)
	if !ok {
		return nil, &NotFoundError{Ref: models.DriverRef(driverID)}
	}

	if delivery.Status != models.DeliveryStatusPending && delivery.Status != models.DeliveryStatusAssigned {
		return nil, &ValidationError{Message: fmt.Sprintf("delivery %s is %s and cannot be reassigned", deliveryID, delivery.Status)}
	}
	if delivery.AssignedTo() == driverID {
		return nil, &ValidationError{Message: fmt.Sprintf("delivery %s is already assigned to %s", deliveryID, driver.Name)}
	}
	if !driver.IsAvailable() {
		return nil, &ValidationError{Message: fmt.Sprintf("%s is not available", driver.Name)}
	}

	assigned := models.DeliveryStatusAssigned
	busy := models.DriverStatusBusy
	delivering := models.DriverDeliveryDelivering

	forward := []models.Patch{
		models.DeliveryUpdate(deliveryID, models.DeliveryPatch{
			DriverID: models.Assign(driverID),
			Status:   &assigned,
		}),
		models.DriverUpdate(driverID, models.DriverPatch{
			Status:         &busy,
			DeliveryStatus: &delivering,
		}),
	}
	entities := []models.EntityRef{models.DeliveryRef(deliveryID), models.DriverRef(driverID)}

	if old := delivery.AssignedTo(); old != "" {
		if _, ok := d.store.Driver(old); ok {
			online := models.DriverStatusOnline
			idle := models.DriverDeliveryIdle
			forward = append(forward, models.DriverUpdate(old, models.DriverPatch{
				Status:         &online,
				DeliveryStatus: &idle,
			}))
			entities = append(entities, models.DriverRef(old))
		}
	}

	return d.coord.Perform(ctx, Request{
		Kind:     KindReassignDelivery,
		Entities: entities,
		Forward:  forward,
		Backing: func(ctx context.Context) error {
			return d.backend.ReassignDelivery(ctx, deliveryID, driverID)
		},
		SuccessMessage: fmt.Sprintf("Delivery reassigned to %s", driver.Name),
		FailureMessage: "Failed to reassign delivery",
	})
}

// CompleteDelivery marks deliveryID completed and frees its driver
func (d *Dispatcher) CompleteDelivery(ctx context.Context, deliveryID string) (*Ticket, error) {
	if deliveryID == "" {
		return nil, &ValidationError{Message: "select a delivery to complete"}
	}
	delivery, ok := d.store.Delivery(deliveryID)
	if !ok {
		return nil, &NotFoundError{Ref: models.DeliveryRef(deliveryID)}
	}
	driverID := delivery.AssignedTo()
	if driverID == "" {
		return nil, &NotFoundError{
			Ref:    models.DriverRef(""),
			Reason: fmt.Sprintf("delivery %s has no assigned driver", deliveryID),
		}
	}
	driver, ok := d.store.Driver(driverID)
	if !ok {
		return nil, &NotFoundError{Ref: models.DriverRef(driverID)}
	}
	if delivery.Status.IsTerminal() {
		return nil, &ValidationError{Message: fmt.Sprintf("delivery %s is already %s", deliveryID, delivery.Status)}
	}

	at := d.now()
	completed := models.DeliveryStatusCompleted
	online := models.DriverStatusOnline
	idle := models.DriverDeliveryIdle

	return d.coord.Perform(ctx, Request{
		Kind:     KindCompleteDelivery,
		Entities: []models.EntityRef{models.DeliveryRef(deliveryID), models.DriverRef(driverID)},
		Forward: []models.Patch{
			models.DeliveryUpdate(deliveryID, models.DeliveryPatch{
				Status:             &completed,
				ActualDeliveryTime: models.Assign(at),
			}),
			models.DriverUpdate(driverID, models.DriverPatch{
				Status:         &online,
				DeliveryStatus: &idle,
			}),
		},
		Backing: func(ctx context.Context) error {
			return d.backend.CompleteDelivery(ctx, deliveryID, at)
		},
		SuccessMessage: fmt.Sprintf("Delivery completed by %s", driver.Name),
		FailureMessage: "Failed to complete delivery",
	})
}

// TogglePause flips driverID between paused and delivering
func (d *Dispatcher) TogglePause(ctx context.Context, driverID string) (*Ticket, error) {
	if driverID == "" {
		return nil, &ValidationError{Message: "select a driver"}
	}
	driver, ok := d.store.Driver(driverID)
	if !ok {
		return nil, &NotFoundError{Ref: models.DriverRef(driverID)}
	}

	var next models.DriverDeliveryStatus
	switch driver.DeliveryStatus {
	case models.DriverDeliveryDelivering:
		next = models.DriverDeliveryPaused
	case models.DriverDeliveryPaused:
		next = models.DriverDeliveryDelivering
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("%s has no delivery to pause", driver.Name)}
	}

	pausing := next == models.DriverDeliveryPaused
	verb := "resume"
	done := "resumed"
	if pausing {
		verb = "pause"
		done = "paused"
	}

	return d.coord.Perform(ctx, Request{
		Kind:     KindTogglePause,
		Entities: []models.EntityRef{models.DriverRef(driverID)},
		Forward: []models.Patch{
			models.DriverUpdate(driverID, models.DriverPatch{DeliveryStatus: &next}),
		},
		Backing: func(ctx context.Context) error {
			return d.backend.SetDriverPaused(ctx, driverID, pausing)
		},
		SuccessMessage: fmt.Sprintf("Driver %s %s", driver.Name, done),
		FailureMessage: fmt.Sprintf("Failed to %s driver", verb),
	})
}
