// Package sample holds the demonstration fleet used to seed the database
// and to run the dashboard without one.
package sample

import (
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// Drivers returns the demonstration drivers, stamped relative to now
func Drivers(now time.Time) []models.Driver {
	eta := now.Add(25 * time.Minute)
	return []models.Driver{
		{
			ID:             "1",
			Name:           "Ahmed Hassan",
			Status:         models.DriverStatusBusy,
			DeliveryStatus: models.DriverDeliveryDelivering,
			Location:       models.Location{Lat: 37.7849, Lng: -122.4094},
			LastUpdated:    now.Add(-1 * time.Minute),
			Vehicle:        models.VehicleInfo{Make: "Toyota", Model: "Prius", PlateNumber: "7ABC123"},
			ETA:            &eta,
		},
		{
			ID:             "2",
			Name:           "Sarah Johnson",
			Status:         models.DriverStatusBusy,
			DeliveryStatus: models.DriverDeliveryPaused,
			Location:       models.Location{Lat: 37.7694, Lng: -122.4862},
			LastUpdated:    now.Add(-3 * time.Minute),
			Vehicle:        models.VehicleInfo{Make: "Ford", Model: "Transit", PlateNumber: "8DEF456"},
		},
		{
			ID:             "3",
			Name:           "Mike Chen",
			Status:         models.DriverStatusOnline,
			DeliveryStatus: models.DriverDeliveryIdle,
			Location:       models.Location{Lat: 37.7599, Lng: -122.4148},
			LastUpdated:    now.Add(-2 * time.Minute),
			Vehicle:        models.VehicleInfo{Make: "Honda", Model: "Civic", PlateNumber: "6GHI789"},
		},
		{
			ID:             "4",
			Name:           "Emily Davis",
			Status:         models.DriverStatusOnline,
			DeliveryStatus: models.DriverDeliveryIdle,
			Location:       models.Location{Lat: 37.8024, Lng: -122.4058},
			LastUpdated:    now.Add(-5 * time.Minute),
			Vehicle:        models.VehicleInfo{Make: "Nissan", Model: "NV200", PlateNumber: "5JKL012"},
		},
		{
			ID:             "5",
			Name:           "James Wilson",
			Status:         models.DriverStatusOffline,
			DeliveryStatus: models.DriverDeliveryIdle,
			Location:       models.Location{Lat: 37.7338, Lng: -122.4467},
			LastUpdated:    now.Add(-45 * time.Minute),
			Vehicle:        models.VehicleInfo{Make: "Chevrolet", Model: "Express", PlateNumber: "4MNO345"},
		},
	}
}

// Deliveries returns the demonstration deliveries. del-003 is pending and
// unassigned so it can be dispatched to driver 3.
func Deliveries(now time.Time) []models.Delivery {
	one, two, five := "1", "2", "5"
	pickedUp := now.Add(-20 * time.Minute)
	pickedUp2 := now.Add(-35 * time.Minute)
	delivered5 := now.Add(-50 * time.Minute)
	pickedUp5 := now.Add(-70 * time.Minute)
	return []models.Delivery{
		{
			ID:                    "del-001",
			DriverID:              &one,
			Status:                models.DeliveryStatusDelivering,
			Pickup:                models.Place{Address: "1 Ferry Building, San Francisco", Lat: 37.7955, Lng: -122.3937},
			Dropoff:               models.Place{Address: "500 Castro St, San Francisco", Lat: 37.7609, Lng: -122.4350},
			Customer:              models.CustomerInfo{Name: "Laura Kim", Phone: "+1-415-555-0101"},
			EstimatedPickupTime:   now.Add(-25 * time.Minute),
			EstimatedDeliveryTime: now.Add(25 * time.Minute),
			ActualPickupTime:      &pickedUp,
			Notes:                 "Leave at front desk",
		},
		{
			ID:                    "del-002",
			DriverID:              &two,
			Status:                models.DeliveryStatusPickedUp,
			Pickup:                models.Place{Address: "3251 20th Ave, San Francisco", Lat: 37.7281, Lng: -122.4753},
			Dropoff:               models.Place{Address: "1200 9th Ave, San Francisco", Lat: 37.7652, Lng: -122.4665},
			Customer:              models.CustomerInfo{Name: "Daniel Ortiz", Phone: "+1-415-555-0102"},
			EstimatedPickupTime:   now.Add(-40 * time.Minute),
			EstimatedDeliveryTime: now.Add(15 * time.Minute),
			ActualPickupTime:      &pickedUp2,
		},
		{
			ID:                    "del-003",
			Status:                models.DeliveryStatusPending,
			Pickup:                models.Place{Address: "845 Market St, San Francisco", Lat: 37.7840, Lng: -122.4066},
			Dropoff:               models.Place{Address: "2 Marina Blvd, San Francisco", Lat: 37.8063, Lng: -122.4325},
			Customer:              models.CustomerInfo{Name: "Priya Patel", Phone: "+1-415-555-0103"},
			EstimatedPickupTime:   now.Add(15 * time.Minute),
			EstimatedDeliveryTime: now.Add(45 * time.Minute),
			Notes:                 "Fragile",
		},
		{
			ID:                    "del-004",
			Status:                models.DeliveryStatusPending,
			Pickup:                models.Place{Address: "2675 Geary Blvd, San Francisco", Lat: 37.7822, Lng: -122.4478},
			Dropoff:               models.Place{Address: "1 Telegraph Hill Blvd, San Francisco", Lat: 37.8024, Lng: -122.4058},
			Customer:              models.CustomerInfo{Name: "Tom Becker", Phone: "+1-415-555-0104"},
			EstimatedPickupTime:   now.Add(30 * time.Minute),
			EstimatedDeliveryTime: now.Add(70 * time.Minute),
		},
		{
			ID:                    "del-005",
			DriverID:              &five,
			Status:                models.DeliveryStatusCompleted,
			Pickup:                models.Place{Address: "499 Illinois St, San Francisco", Lat: 37.7670, Lng: -122.3875},
			Dropoff:               models.Place{Address: "3301 Lyon St, San Francisco", Lat: 37.8020, Lng: -122.4486},
			Customer:              models.CustomerInfo{Name: "Grace Liu", Phone: "+1-415-555-0105"},
			EstimatedPickupTime:   now.Add(-80 * time.Minute),
			EstimatedDeliveryTime: now.Add(-45 * time.Minute),
			ActualPickupTime:      &pickedUp5,
			ActualDeliveryTime:    &delivered5,
		},
	}
}
