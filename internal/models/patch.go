package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EntityKind names the two kinds of records tracked by the dashboard
type EntityKind string

const (
	KindDriver   EntityKind = "driver"
	KindDelivery EntityKind = "delivery"
)

// EntityRef identifies one record in the entity store
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// DriverRef and DeliveryRef are shorthands used throughout dispatch code
func DriverRef(id string) EntityRef   { return EntityRef{Kind: KindDriver, ID: id} }
func DeliveryRef(id string) EntityRef { return EntityRef{Kind: KindDelivery, ID: id} }

// Optional is a patch field for a value that may itself be absent.
// Set=false leaves the field untouched; Set=true with a nil Value clears it.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Assign returns an Optional that sets the field to v
func Assign[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Unset returns an Optional that clears the field
func Unset[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// ErrImmutableField is returned when an update tries to change session-immutable data
var ErrImmutableField = errors.New("field is immutable")

// Patch field names, shared by driver and delivery patches where they overlap
const (
	FieldName                  = "name"
	FieldStatus                = "status"
	FieldDeliveryStatus        = "deliveryStatus"
	FieldLocation              = "currentLocation"
	FieldLastUpdated           = "lastUpdated"
	FieldETA                   = "eta"
	FieldDriverID              = "driverId"
	FieldPickup                = "pickupLocation"
	FieldDropoff               = "dropoffLocation"
	FieldCustomer              = "customerInfo"
	FieldEstimatedPickupTime   = "estimatedPickupTime"
	FieldEstimatedDeliveryTime = "estimatedDeliveryTime"
	FieldActualPickupTime      = "actualPickupTime"
	FieldActualDeliveryTime    = "actualDeliveryTime"
	FieldNotes                 = "notes"
)

// DriverPatch is a partial update of a Driver. Nil fields are untouched.
// There is deliberately no vehicle field.
type DriverPatch struct {
	Name           *string
	Status         *DriverStatus
	DeliveryStatus *DriverDeliveryStatus
	Location       *Location
	LastUpdated    *time.Time
	ETA            Optional[time.Time]
}

// Fields lists the names of the fields this patch touches
func (p DriverPatch) Fields() []string {
	var out []string
	if p.Name != nil {
		out = append(out, FieldName)
	}
	if p.Status != nil {
		out = append(out, FieldStatus)
	}
	if p.DeliveryStatus != nil {
		out = append(out, FieldDeliveryStatus)
	}
	if p.Location != nil {
		out = append(out, FieldLocation)
	}
	if p.LastUpdated != nil {
		out = append(out, FieldLastUpdated)
	}
	if p.ETA.Set {
		out = append(out, FieldETA)
	}
	return out
}

// Empty returns true when the patch touches nothing
func (p DriverPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Only returns a copy of p restricted to the named fields
func (p DriverPatch) Only(keep map[string]bool) DriverPatch {
	var out DriverPatch
	if keep[FieldName] {
		out.Name = p.Name
	}
	if keep[FieldStatus] {
		out.Status = p.Status
	}
	if keep[FieldDeliveryStatus] {
		out.DeliveryStatus = p.DeliveryStatus
	}
	if keep[FieldLocation] {
		out.Location = p.Location
	}
	if keep[FieldLastUpdated] {
		out.LastUpdated = p.LastUpdated
	}
	if keep[FieldETA] {
		out.ETA = p.ETA
	}
	return out
}

// UnmarshalJSON decodes the "updates" object of a driver_update message.
// A present key marks the field as touched; null clears optional fields.
func (p *DriverPatch) UnmarshalJSON(data []byte) error {
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	for key, val := range raw {
		switch key {
		case FieldName:
			var v string
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.Name = &v
		case FieldStatus:
			var v DriverStatus
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			if !v.Valid() {
				return fmt.Errorf("invalid driver status %q", v)
			}
			p.Status = &v
		case FieldDeliveryStatus:
			var v DriverDeliveryStatus
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			if !v.Valid() {
				return fmt.Errorf("invalid delivery status %q", v)
			}
			p.DeliveryStatus = &v
		case FieldLocation, "location":
			var v Location
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.Location = &v
		case FieldLastUpdated:
			var v time.Time
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.LastUpdated = &v
		case FieldETA:
			if p.ETA, err = decodeOptional[time.Time](key, val); err != nil {
				return err
			}
		case "vehicleInfo":
			return fmt.Errorf("vehicleInfo: %w", ErrImmutableField)
		}
	}
	return nil
}

// DeliveryPatch is a partial update of a Delivery. Nil fields are untouched.
type DeliveryPatch struct {
	DriverID              Optional[string]
	Status                *DeliveryStatus
	Pickup                *Place
	Dropoff               *Place
	Customer              *CustomerInfo
	EstimatedPickupTime   *time.Time
	EstimatedDeliveryTime *time.Time
	ActualPickupTime      Optional[time.Time]
	ActualDeliveryTime    Optional[time.Time]
	Notes                 *string
}

// Fields lists the names of the fields this patch touches
func (p DeliveryPatch) Fields() []string {
	var out []string
	if p.DriverID.Set {
		out = append(out, FieldDriverID)
	}
	if p.Status != nil {
		out = append(out, FieldStatus)
	}
	if p.Pickup != nil {
		out = append(out, FieldPickup)
	}
	if p.Dropoff != nil {
		out = append(out, FieldDropoff)
	}
	if p.Customer != nil {
		out = append(out, FieldCustomer)
	}
	if p.EstimatedPickupTime != nil {
		out = append(out, FieldEstimatedPickupTime)
	}
	if p.EstimatedDeliveryTime != nil {
		out = append(out, FieldEstimatedDeliveryTime)
	}
	if p.ActualPickupTime.Set {
		out = append(out, FieldActualPickupTime)
	}
	if p.ActualDeliveryTime.Set {
		out = append(out, FieldActualDeliveryTime)
	}
	if p.Notes != nil {
		out = append(out, FieldNotes)
	}
	return out
}

func (p DeliveryPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Only returns a copy of p restricted to the named fields
func (p DeliveryPatch) Only(keep map[string]bool) DeliveryPatch {
	var out DeliveryPatch
	if keep[FieldDriverID] {
		out.DriverID = p.DriverID
	}
	if keep[FieldStatus] {
		out.Status = p.Status
	}
	if keep[FieldPickup] {
		out.Pickup = p.Pickup
	}
	if keep[FieldDropoff] {
		out.Dropoff = p.Dropoff
	}
	if keep[FieldCustomer] {
		out.Customer = p.Customer
	}
	if keep[FieldEstimatedPickupTime] {
		out.EstimatedPickupTime = p.EstimatedPickupTime
	}
	if keep[FieldEstimatedDeliveryTime] {
		out.EstimatedDeliveryTime = p.EstimatedDeliveryTime
	}
	if keep[FieldActualPickupTime] {
		out.ActualPickupTime = p.ActualPickupTime
	}
	if keep[FieldActualDeliveryTime] {
		out.ActualDeliveryTime = p.ActualDeliveryTime
	}
	if keep[FieldNotes] {
		out.Notes = p.Notes
	}
	return out
}

// UnmarshalJSON decodes the "updates" object of a delivery_update message
func (p *DeliveryPatch) UnmarshalJSON(data []byte) error {
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	for key, val := range raw {
		switch key {
		case FieldDriverID:
			if p.DriverID, err = decodeOptional[string](key, val); err != nil {
				return err
			}
			if p.DriverID.Value != nil && *p.DriverID.Value == "" {
				p.DriverID = Unset[string]()
			}
		case FieldStatus:
			var v DeliveryStatus
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			if !v.Valid() {
				return fmt.Errorf("invalid delivery status %q", v)
			}
			p.Status = &v
		case FieldPickup:
			var v Place
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.Pickup = &v
		case FieldDropoff:
			var v Place
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.Dropoff = &v
		case FieldCustomer:
			var v CustomerInfo
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.Customer = &v
		case FieldEstimatedPickupTime:
			var v time.Time
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.EstimatedPickupTime = &v
		case FieldEstimatedDeliveryTime:
			var v time.Time
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.EstimatedDeliveryTime = &v
		case FieldActualPickupTime:
			if p.ActualPickupTime, err = decodeOptional[time.Time](key, val); err != nil {
				return err
			}
		case FieldActualDeliveryTime:
			if p.ActualDeliveryTime, err = decodeOptional[time.Time](key, val); err != nil {
				return err
			}
		case FieldNotes:
			var v string
			if err := decodeRequired(key, val, &v); err != nil {
				return err
			}
			p.Notes = &v
		}
	}
	return nil
}

// Patch is a partial update addressed to one entity
type Patch struct {
	Ref      EntityRef
	Driver   *DriverPatch
	Delivery *DeliveryPatch
	// Restore marks an undo of an earlier patch; it may move LastUpdated backwards.
	Restore bool
}

// DriverUpdate builds a patch for driver id
func DriverUpdate(id string, p DriverPatch) Patch {
	return Patch{Ref: DriverRef(id), Driver: &p}
}

// DeliveryUpdate builds a patch for delivery id
func DeliveryUpdate(id string, p DeliveryPatch) Patch {
	return Patch{Ref: DeliveryRef(id), Delivery: &p}
}

// Fields lists the touched field names regardless of kind
func (p Patch) Fields() []string {
	switch {
	case p.Driver != nil:
		return p.Driver.Fields()
	case p.Delivery != nil:
		return p.Delivery.Fields()
	}
	return nil
}

// IsEmpty returns true when the patch touches nothing
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("updates must be an object")
	}
	return raw, nil
}

func isNull(val json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(val), []byte("null"))
}

func decodeRequired(key string, val json.RawMessage, dst interface{}) error {
	if isNull(val) {
		return fmt.Errorf("%s cannot be null", key)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func decodeOptional[T any](key string, val json.RawMessage) (Optional[T], error) {
	if isNull(val) {
		return Unset[T](), nil
	}
	var v T
	if err := json.Unmarshal(val, &v); err != nil {
		return Optional[T]{}, fmt.Errorf("%s: %w", key, err)
	}
	return Assign(v), nil
}
