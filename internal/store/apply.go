package store

import (
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

func patchDriver(d *models.Driver, p models.DriverPatch) models.DriverPatch {
	var inv models.DriverPatch
	if p.Name != nil {
		inv.Name = ptr(d.Name)
		d.Name = *p.Name
	}
	if p.Status != nil {
		inv.Status = ptr(d.Status)
		d.Status = *p.Status
	}
	if p.DeliveryStatus != nil {
		inv.DeliveryStatus = ptr(d.DeliveryStatus)
		d.DeliveryStatus = *p.DeliveryStatus
	}
	if p.Location != nil {
		inv.Location = ptr(d.Location)
		d.Location = *p.Location
	}
	if p.LastUpdated != nil {
		inv.LastUpdated = ptr(d.LastUpdated)
		d.LastUpdated = *p.LastUpdated
	}
	if p.ETA.Set {
		inv.ETA = optionalOf(d.ETA)
		d.ETA = valueOf(p.ETA)
	}
	return inv
}

func patchDelivery(d *models.Delivery, p models.DeliveryPatch) models.DeliveryPatch {
	var inv models.DeliveryPatch
	if p.DriverID.Set {
		inv.DriverID = optionalOf(d.DriverID)
		d.DriverID = valueOf(p.DriverID)
	}
	if p.Status != nil {
		inv.Status = ptr(d.Status)
		d.Status = *p.Status
	}
	if p.Pickup != nil {
		inv.Pickup = ptr(d.Pickup)
		d.Pickup = *p.Pickup
	}
	if p.Dropoff != nil {
		inv.Dropoff = ptr(d.Dropoff)
		d.Dropoff = *p.Dropoff
	}
	if p.Customer != nil {
		inv.Customer = ptr(d.Customer)
		d.Customer = *p.Customer
	}
	if p.EstimatedPickupTime != nil {
		inv.EstimatedPickupTime = ptr(d.EstimatedPickupTime)
		d.EstimatedPickupTime = *p.EstimatedPickupTime
	}
	if p.EstimatedDeliveryTime != nil {
		inv.EstimatedDeliveryTime = ptr(d.EstimatedDeliveryTime)
		d.EstimatedDeliveryTime = *p.EstimatedDeliveryTime
	}
	if p.ActualPickupTime.Set {
		inv.ActualPickupTime = optionalOf(d.ActualPickupTime)
		d.ActualPickupTime = valueOf(p.ActualPickupTime)
	}
	if p.ActualDeliveryTime.Set {
		inv.ActualDeliveryTime = optionalOf(d.ActualDeliveryTime)
		d.ActualDeliveryTime = valueOf(p.ActualDeliveryTime)
	}
	if p.Notes != nil {
		inv.Notes = ptr(d.Notes)
		d.Notes = *p.Notes
	}
	return inv
}

func driverHolding(d models.Driver, p models.DriverPatch) map[string]bool {
	out := make(map[string]bool)
	if p.Name != nil {
		out[models.FieldName] = d.Name == *p.Name
	}
	if p.Status != nil {
		out[models.FieldStatus] = d.Status == *p.Status
	}
	if p.DeliveryStatus != nil {
		out[models.FieldDeliveryStatus] = d.DeliveryStatus == *p.DeliveryStatus
	}
	if p.Location != nil {
		out[models.FieldLocation] = d.Location == *p.Location
	}
	if p.LastUpdated != nil {
		out[models.FieldLastUpdated] = d.LastUpdated.Equal(*p.LastUpdated)
	}
	if p.ETA.Set {
		out[models.FieldETA] = timeEqual(d.ETA, p.ETA.Value)
	}
	return out
}

func deliveryHolding(d models.Delivery, p models.DeliveryPatch) map[string]bool {
	out := make(map[string]bool)
	if p.DriverID.Set {
		out[models.FieldDriverID] = stringEqual(d.DriverID, p.DriverID.Value)
	}
	if p.Status != nil {
		out[models.FieldStatus] = d.Status == *p.Status
	}
	if p.Pickup != nil {
		out[models.FieldPickup] = d.Pickup == *p.Pickup
	}
	if p.Dropoff != nil {
		out[models.FieldDropoff] = d.Dropoff == *p.Dropoff
	}
	if p.Customer != nil {
		out[models.FieldCustomer] = d.Customer == *p.Customer
	}
	if p.EstimatedPickupTime != nil {
		out[models.FieldEstimatedPickupTime] = d.EstimatedPickupTime.Equal(*p.EstimatedPickupTime)
	}
	if p.EstimatedDeliveryTime != nil {
		out[models.FieldEstimatedDeliveryTime] = d.EstimatedDeliveryTime.Equal(*p.EstimatedDeliveryTime)
	}
	if p.ActualPickupTime.Set {
		out[models.FieldActualPickupTime] = timeEqual(d.ActualPickupTime, p.ActualPickupTime.Value)
	}
	if p.ActualDeliveryTime.Set {
		out[models.FieldActualDeliveryTime] = timeEqual(d.ActualDeliveryTime, p.ActualDeliveryTime.Value)
	}
	if p.Notes != nil {
		out[models.FieldNotes] = d.Notes == *p.Notes
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}

func optionalOf[T any](v *T) models.Optional[T] {
	if v == nil {
		return models.Unset[T]()
	}
	return models.Assign(*v)
}

func valueOf[T any](o models.Optional[T]) *T {
	if o.Value == nil {
		return nil
	}
	v := *o.Value
	return &v
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func stringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
