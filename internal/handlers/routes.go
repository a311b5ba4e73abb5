package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/middleware"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

// API bundles what the HTTP routes need
type API struct {
	Dash   Dashboard
	Users  UserFinder
	Nearby NearbyFinder
	// Stream serves the browser websocket; it authenticates on its own
	Stream http.HandlerFunc
	Secret string
}

// Mount registers the dashboard routes on r
func Mount(r chi.Router, api API) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Authentication routes (no auth required)
	r.Post("/api/auth/login", Login(api.Users, api.Secret))

	if api.Stream != nil {
		r.Get("/ws", api.Stream)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(api.Secret))
		r.Use(middleware.RequireRole(models.RoleDispatcher, models.RoleAdmin))

		// Fleet
		r.Get("/drivers", GetDrivers(api.Dash))
		r.Get("/drivers/available", GetAvailableDrivers(api.Dash))
		r.Get("/drivers/nearby", GetNearbyDrivers(api.Nearby))
		r.Patch("/drivers/{id}/location", UpdateDriverLocation(api.Dash))
		r.Get("/deliveries", GetDeliveries(api.Dash))

		// Selection
		r.Get("/selection", GetSelection(api.Dash))
		r.Post("/selection", SetSelection(api.Dash))
		r.Delete("/selection", ClearSelection(api.Dash))

		// Dispatch actions
		r.Post("/dispatch/reassign", ReassignDelivery(api.Dash))
		r.Post("/dispatch/complete", CompleteDelivery(api.Dash))
		r.Post("/dispatch/pause", TogglePause(api.Dash))
		r.Get("/dispatch/status", GetDispatchStatus(api.Dash))
		r.Post("/reload", Reload(api.Dash))

		// Live feed
		r.Get("/connection", GetConnection(api.Dash))
		r.Post("/connection/connect", ConnectFeed(api.Dash))
		r.Post("/connection/disconnect", DisconnectFeed(api.Dash))
	})
}
