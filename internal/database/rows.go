package database

import (
	"database/sql"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

type driverRow struct {
	ID             string        `db:"id"`
	Name           string        `db:"name"`
	Status         string        `db:"status"`
	DeliveryStatus string        `db:"delivery_status"`
	Lat            float64       `db:"lat"`
	Lng            float64       `db:"lng"`
	LastUpdated    int64         `db:"last_updated"`
	VehicleMake    string        `db:"vehicle_make"`
	VehicleModel   string        `db:"vehicle_model"`
	VehiclePlate   string        `db:"vehicle_plate"`
	ETA            sql.NullInt64 `db:"eta"`
	SortOrder      int           `db:"sort_order"`
}

type deliveryRow struct {
	ID                    string         `db:"id"`
	DriverID              sql.NullString `db:"driver_id"`
	Status                string         `db:"status"`
	PickupAddress         string         `db:"pickup_address"`
	PickupLat             float64        `db:"pickup_lat"`
	PickupLng             float64        `db:"pickup_lng"`
	DropoffAddress        string         `db:"dropoff_address"`
	DropoffLat            float64        `db:"dropoff_lat"`
	DropoffLng            float64        `db:"dropoff_lng"`
	CustomerName          string         `db:"customer_name"`
	CustomerPhone         string         `db:"customer_phone"`
	EstimatedPickupTime   int64          `db:"estimated_pickup_time"`
	EstimatedDeliveryTime int64          `db:"estimated_delivery_time"`
	ActualPickupTime      sql.NullInt64  `db:"actual_pickup_time"`
	ActualDeliveryTime    sql.NullInt64  `db:"actual_delivery_time"`
	Notes                 string         `db:"notes"`
	SortOrder             int            `db:"sort_order"`
}

func (r driverRow) toModel() models.Driver {
	return models.Driver{
		ID:             r.ID,
		Name:           r.Name,
		Status:         models.DriverStatus(r.Status),
		DeliveryStatus: models.DriverDeliveryStatus(r.DeliveryStatus),
		Location:       models.Location{Lat: r.Lat, Lng: r.Lng},
		LastUpdated:    fromMillis(r.LastUpdated),
		Vehicle: models.VehicleInfo{
			Make:        r.VehicleMake,
			Model:       r.VehicleModel,
			PlateNumber: r.VehiclePlate,
		},
		ETA: nullTime(r.ETA),
	}
}

func newDriverRow(d models.Driver, order int) driverRow {
	return driverRow{
		ID:             d.ID,
		Name:           d.Name,
		Status:         string(d.Status),
		DeliveryStatus: string(d.DeliveryStatus),
		Lat:            d.Location.Lat,
		Lng:            d.Location.Lng,
		LastUpdated:    d.LastUpdated.UnixMilli(),
		VehicleMake:    d.Vehicle.Make,
		VehicleModel:   d.Vehicle.Model,
		VehiclePlate:   d.Vehicle.PlateNumber,
		ETA:            nullMillis(d.ETA),
		SortOrder:      order,
	}
}

func (r deliveryRow) toModel() models.Delivery {
	d := models.Delivery{
		ID:                    r.ID,
		Status:                models.DeliveryStatus(r.Status),
		Pickup:                models.Place{Address: r.PickupAddress, Lat: r.PickupLat, Lng: r.PickupLng},
		Dropoff:               models.Place{Address: r.DropoffAddress, Lat: r.DropoffLat, Lng: r.DropoffLng},
		Customer:              models.CustomerInfo{Name: r.CustomerName, Phone: r.CustomerPhone},
		EstimatedPickupTime:   fromMillis(r.EstimatedPickupTime),
		EstimatedDeliveryTime: fromMillis(r.EstimatedDeliveryTime),
		ActualPickupTime:      nullTime(r.ActualPickupTime),
		ActualDeliveryTime:    nullTime(r.ActualDeliveryTime),
		Notes:                 r.Notes,
	}
	if r.DriverID.Valid {
		id := r.DriverID.String
		d.DriverID = &id
	}
	return d
}

func newDeliveryRow(d models.Delivery, order int) deliveryRow {
	return deliveryRow{
		ID:                    d.ID,
		DriverID:              sql.NullString{String: d.AssignedTo(), Valid: d.DriverID != nil},
		Status:                string(d.Status),
		PickupAddress:         d.Pickup.Address,
		PickupLat:             d.Pickup.Lat,
		PickupLng:             d.Pickup.Lng,
		DropoffAddress:        d.Dropoff.Address,
		DropoffLat:            d.Dropoff.Lat,
		DropoffLng:            d.Dropoff.Lng,
		CustomerName:          d.Customer.Name,
		CustomerPhone:         d.Customer.Phone,
		EstimatedPickupTime:   d.EstimatedPickupTime.UnixMilli(),
		EstimatedDeliveryTime: d.EstimatedDeliveryTime.UnixMilli(),
		ActualPickupTime:      nullMillis(d.ActualPickupTime),
		ActualDeliveryTime:    nullMillis(d.ActualDeliveryTime),
		Notes:                 d.Notes,
		SortOrder:             order,
	}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
