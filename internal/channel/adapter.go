package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// ErrUnknownEntity is returned when a message addresses an id the store does not hold
var ErrUnknownEntity = errors.New("unknown entity")

// MalformedMessageError describes an inbound message that could not be applied
type MalformedMessageError struct {
	Type   models.MessageType
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	msg := "malformed message"
	if e.Type != "" {
		msg += " " + string(e.Type)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Store is the slice of the entity store the adapter writes through
type Store interface {
	Patch(models.Patch) (models.Patch, bool)
	Stale(models.Patch) bool
	Delivery(id string) (models.Delivery, bool)
}

// Stats counts what happened to inbound messages
type Stats struct {
	Applied   uint64 `json:"applied"`
	Malformed uint64 `json:"malformed"`
	Unknown   uint64 `json:"unknown"`
	Stale     uint64 `json:"stale"`
}

// Adapter turns feed messages into store patches. Handle must be called
// from one goroutine at a time, in arrival order.
type Adapter struct {
	store Store
	log   logging.Logger

	applied   atomic.Uint64
	malformed atomic.Uint64
	unknown   atomic.Uint64
	stale     atomic.Uint64
}

func NewAdapter(store Store, log logging.Logger) *Adapter {
	return &Adapter{store: store, log: log}
}

// Stats returns the message counters
func (a *Adapter) Stats() Stats {
	return Stats{
		Applied:   a.applied.Load(),
		Malformed: a.malformed.Load(),
		Unknown:   a.unknown.Load(),
		Stale:     a.stale.Load(),
	}
}

// Handle parses one raw feed message and applies it as exactly one patch.
// Malformed messages and unknown ids are logged and dropped; the returned
// error only reports what happened. Stale driver updates are counted and
// dropped without an error.
func (a *Adapter) Handle(raw []byte) error {
	patch, err := a.decode(raw)
	if err != nil {
		a.malformed.Add(1)
		a.log.Errorf("⚠️ [FEED] dropping message: %v", err)
		return err
	}

	if a.store.Stale(patch) {
		a.stale.Add(1)
		a.log.Infof("[FEED] stale update for %s %s dropped", patch.Ref.Kind, patch.Ref.ID)
		return nil
	}
	if _, ok := a.store.Patch(patch); !ok {
		a.unknown.Add(1)
		a.log.Infof("[FEED] no %s with id %s, message dropped", patch.Ref.Kind, patch.Ref.ID)
		return fmt.Errorf("%s: %w", patch.Ref, ErrUnknownEntity)
	}
	a.applied.Add(1)
	return nil
}

func (a *Adapter) decode(raw []byte) (models.Patch, error) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Patch{}, &MalformedMessageError{Reason: "invalid json", Err: err}
	}
	sentAt, hasSentAt, err := env.SentAt()
	if err != nil {
		return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "invalid timestamp", Err: err}
	}
	if len(env.Payload) == 0 {
		return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "missing payload"}
	}

	switch env.Type {
	case models.MessageDriverUpdate:
		var payload models.DriverUpdatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "invalid payload", Err: err}
		}
		if payload.DriverID == "" {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "missing driverId"}
		}
		if len(payload.Updates) == 0 {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "missing updates"}
		}
		var updates models.DriverPatch
		if err := json.Unmarshal(payload.Updates, &updates); err != nil {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "invalid updates", Err: err}
		}
		if updates.LastUpdated == nil && hasSentAt {
			updates.LastUpdated = &sentAt
		}
		return models.DriverUpdate(payload.DriverID, updates), nil

	case models.MessageDeliveryUpdate:
		var payload models.DeliveryUpdatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "invalid payload", Err: err}
		}
		if payload.DeliveryID == "" {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "missing deliveryId"}
		}
		if len(payload.Updates) == 0 {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "missing updates"}
		}
		var updates models.DeliveryPatch
		if err := json.Unmarshal(payload.Updates, &updates); err != nil {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "invalid updates", Err: err}
		}
		if err := a.checkDeliveryTimes(payload.DeliveryID, updates); err != nil {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: err.Error()}
		}
		return models.DeliveryUpdate(payload.DeliveryID, updates), nil

	case models.MessageStatusChange:
		var payload models.StatusChangePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "invalid payload", Err: err}
		}
		if payload.DriverID == "" {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "missing driverId"}
		}
		if !payload.Status.Valid() {
			return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: fmt.Sprintf("invalid status %q", payload.Status)}
		}
		status := payload.Status
		return models.DriverUpdate(payload.DriverID, models.DriverPatch{Status: &status}), nil
	}

	return models.Patch{}, &MalformedMessageError{Type: env.Type, Reason: "unknown message type"}
}

// checkDeliveryTimes rejects updates that would leave an actual delivery
// time on a delivery that is not completed. An unknown id passes; the
// store reports it.
func (a *Adapter) checkDeliveryTimes(id string, p models.DeliveryPatch) error {
	current, ok := a.store.Delivery(id)
	if !ok {
		return nil
	}
	status := current.Status
	if p.Status != nil {
		status = *p.Status
	}
	delivered := current.ActualDeliveryTime != nil
	if p.ActualDeliveryTime.Set {
		delivered = p.ActualDeliveryTime.Value != nil
	}
	if delivered && status != models.DeliveryStatusCompleted {
		return fmt.Errorf("actualDeliveryTime set on %s delivery", status)
	}
	return nil
}
