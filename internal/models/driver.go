package models

import "time"

// DriverStatus represents a driver's operational availability
type DriverStatus string

const (
	DriverStatusOnline  DriverStatus = "online"
	DriverStatusBusy    DriverStatus = "busy"
	DriverStatusOffline DriverStatus = "offline"
)

// Valid reports whether s is one of the known driver statuses
func (s DriverStatus) Valid() bool {
	switch s {
	case DriverStatusOnline, DriverStatusBusy, DriverStatusOffline:
		return true
	}
	return false
}

// DriverDeliveryStatus represents what a driver is doing with their delivery
type DriverDeliveryStatus string

const (
	DriverDeliveryIdle       DriverDeliveryStatus = "idle"
	DriverDeliveryDelivering DriverDeliveryStatus = "delivering"
	DriverDeliveryPaused     DriverDeliveryStatus = "paused"
)

// Valid reports whether s is one of the known driver delivery statuses
func (s DriverDeliveryStatus) Valid() bool {
	switch s {
	case DriverDeliveryIdle, DriverDeliveryDelivering, DriverDeliveryPaused:
		return true
	}
	return false
}

// Location is a WGS84 coordinate pair
type Location struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// VehicleInfo describes the driver's vehicle. It does not change during a session.
type VehicleInfo struct {
	Make        string `json:"make" db:"vehicle_make"`
	Model       string `json:"model" db:"vehicle_model"`
	PlateNumber string `json:"plateNumber" db:"vehicle_plate"`
}

// Driver is the dashboard's view of a fleet driver
type Driver struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Status         DriverStatus         `json:"status"`
	DeliveryStatus DriverDeliveryStatus `json:"deliveryStatus"`
	Location       Location             `json:"currentLocation"`
	LastUpdated    time.Time            `json:"lastUpdated"`
	Vehicle        VehicleInfo          `json:"vehicleInfo"`
	ETA            *time.Time           `json:"eta,omitempty"`
}

// Ref returns the store reference for this driver
func (d Driver) Ref() EntityRef {
	return EntityRef{Kind: KindDriver, ID: d.ID}
}

// Clone returns a deep copy; the ETA pointer is not shared
func (d Driver) Clone() Driver {
	c := d
	c.ETA = cloneTime(d.ETA)
	return c
}

// IsAvailable returns true when the driver can take a new delivery
func (d Driver) IsAvailable() bool {
	return d.Status == DriverStatusOnline && d.DeliveryStatus == DriverDeliveryIdle
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
