package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/connection"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/core"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/services"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/view"
	"github.com/kenedwardtan/real-time-logistics-tracker/pkg/utils"
)

// Dashboard is the dispatcher session the HTTP API drives
type Dashboard interface {
	Reader() view.Reader
	Load(ctx context.Context) error
	Snapshot(ctx context.Context) (core.Snapshot, error)
	Stats() core.Stats
	MutationInProgress() bool

	Select(ref models.EntityRef)
	Deselect()
	ToggleSelection(ref models.EntityRef)
	Selected() (view.Selected, bool)

	ReassignDelivery(ctx context.Context, deliveryID, driverID string) (*mutation.Ticket, error)
	CompleteDelivery(ctx context.Context, deliveryID string) (*mutation.Ticket, error)
	TogglePause(ctx context.Context, driverID string) (*mutation.Ticket, error)
	UpdateDriverLocation(ctx context.Context, driverID string, loc models.Location) error

	Connection() connection.Info
	Connect(url string) error
	Disconnect()
}

// NearbyFinder answers radius searches over available drivers
type NearbyFinder interface {
	Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]services.NearbyDriver, error)
}

const defaultNearbyRadius = 5000.0

// GetDrivers lists drivers, optionally filtered by status and sorted
// GET /api/drivers?status=online,busy&sort=name
func GetDrivers(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, less, err := view.ParseDriverQuery(r.URL.Query().Get("status"), r.URL.Query().Get("sort"))
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		drivers := view.FilteredSortedDrivers(dash.Reader(), filter, less)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    drivers,
		})
	}
}

// GetAvailableDrivers lists drivers that can take a delivery
// GET /api/drivers/available
func GetAvailableDrivers(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drivers := view.FilteredSortedDrivers(dash.Reader(), view.AvailableDrivers, view.ByName)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    drivers,
		})
	}
}

// GetNearbyDrivers finds available drivers around a point
// GET /api/drivers/nearby?lat=..&lng=..&radius=5000&limit=10
func GetNearbyDrivers(finder NearbyFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
		if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			utils.RespondError(w, http.StatusBadRequest, "lat and lng are required coordinates")
			return
		}

		radius := defaultNearbyRadius
		if raw := q.Get("radius"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 {
				utils.RespondError(w, http.StatusBadRequest, "radius must be a positive number of meters")
				return
			}
			radius = v
		}

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = v
		}

		drivers, err := finder.Nearby(r.Context(), lat, lng, radius, limit)
		if err != nil {
			log.Printf("❌ Nearby search failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to search nearby drivers")
			return
		}
		if drivers == nil {
			drivers = []services.NearbyDriver{}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    drivers,
		})
	}
}

// GetDeliveries lists deliveries
// GET /api/deliveries?scope=assignable|active
func GetDeliveries(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := view.ParseDeliveryScope(r.URL.Query().Get("scope"))
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		deliveries := view.FilteredSortedDeliveries(dash.Reader(), filter, nil)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    deliveries,
		})
	}
}

// UpdateDriverLocation moves a driver on the map
// PATCH /api/drivers/{id}/location
func UpdateDriverLocation(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")

		var loc models.Location
		if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := dash.UpdateDriverLocation(r.Context(), driverID, loc); err != nil {
			utils.RespondDispatchError(w, err)
			return
		}

		driver, _ := dash.Reader().Driver(driverID)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    driver,
		})
	}
}
