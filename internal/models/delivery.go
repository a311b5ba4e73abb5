package models

import "time"

// DeliveryStatus represents the lifecycle of a delivery
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusAssigned   DeliveryStatus = "assigned"
	DeliveryStatusPickedUp   DeliveryStatus = "picked-up"
	DeliveryStatusDelivering DeliveryStatus = "delivering"
	DeliveryStatusCompleted  DeliveryStatus = "completed"
	DeliveryStatusCancelled  DeliveryStatus = "cancelled"
)

// Valid reports whether s is one of the known delivery statuses
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusAssigned, DeliveryStatusPickedUp,
		DeliveryStatusDelivering, DeliveryStatusCompleted, DeliveryStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for statuses a delivery never leaves
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusCompleted || s == DeliveryStatusCancelled
}

// IsActive returns true while a driver is carrying the delivery
func (s DeliveryStatus) IsActive() bool {
	return s == DeliveryStatusPickedUp || s == DeliveryStatusDelivering
}

// Place is an address with coordinates
type Place struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// CustomerInfo holds the delivery recipient's contact details
type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Delivery is the dashboard's view of a delivery order
type Delivery struct {
	ID                    string         `json:"id"`
	DriverID              *string        `json:"driverId,omitempty"` // nil means unassigned
	Status                DeliveryStatus `json:"status"`
	Pickup                Place          `json:"pickupLocation"`
	Dropoff               Place          `json:"dropoffLocation"`
	Customer              CustomerInfo   `json:"customerInfo"`
	EstimatedPickupTime   time.Time      `json:"estimatedPickupTime"`
	EstimatedDeliveryTime time.Time      `json:"estimatedDeliveryTime"`
	ActualPickupTime      *time.Time     `json:"actualPickupTime,omitempty"`
	ActualDeliveryTime    *time.Time     `json:"actualDeliveryTime,omitempty"` // only set when completed
	Notes                 string         `json:"notes,omitempty"`
}

// Ref returns the store reference for this delivery
func (d Delivery) Ref() EntityRef {
	return EntityRef{Kind: KindDelivery, ID: d.ID}
}

// Clone returns a deep copy with no shared pointers
func (d Delivery) Clone() Delivery {
	c := d
	c.DriverID = cloneString(d.DriverID)
	c.ActualPickupTime = cloneTime(d.ActualPickupTime)
	c.ActualDeliveryTime = cloneTime(d.ActualDeliveryTime)
	return c
}

// AssignedTo returns the assigned driver id, or "" when unassigned
func (d Delivery) AssignedTo() string {
	if d.DriverID == nil {
		return ""
	}
	return *d.DriverID
}
