package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
	"github.com/kenedwardtan/real-time-logistics-tracker/pkg/utils"
)

type ReassignRequest struct {
	DeliveryID string `json:"deliveryId"`
	DriverID   string `json:"driverId"`
}

type CompleteRequest struct {
	DeliveryID string `json:"deliveryId"`
}

type PauseRequest struct {
	DriverID string `json:"driverId"`
}

// MutationResponse acknowledges a started change. Outcome is only set
// when the caller asked to wait for it.
type MutationResponse struct {
	Success    bool              `json:"success"`
	MutationID string            `json:"mutationId"`
	Outcome    *mutation.Outcome `json:"outcome,omitempty"`
}

// ReassignDelivery POST /api/dispatch/reassign
func ReassignDelivery(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReassignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		log.Printf("📥 REQUEST: reassign %s to driver %s", req.DeliveryID, req.DriverID)

		ticket, err := dash.ReassignDelivery(r.Context(), req.DeliveryID, req.DriverID)
		respondTicket(w, r, ticket, err)
	}
}

// CompleteDelivery POST /api/dispatch/complete
func CompleteDelivery(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		log.Printf("📥 REQUEST: complete %s", req.DeliveryID)

		ticket, err := dash.CompleteDelivery(r.Context(), req.DeliveryID)
		respondTicket(w, r, ticket, err)
	}
}

// TogglePause POST /api/dispatch/pause
func TogglePause(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PauseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		log.Printf("📥 REQUEST: toggle pause for driver %s", req.DriverID)

		ticket, err := dash.TogglePause(r.Context(), req.DriverID)
		respondTicket(w, r, ticket, err)
	}
}

// respondTicket answers 202 once the optimistic change is visible, or
// 200 with the outcome when the request carries ?wait=true
func respondTicket(w http.ResponseWriter, r *http.Request, ticket *mutation.Ticket, err error) {
	if err != nil {
		log.Printf("❌ Mutation refused: %v", err)
		utils.RespondDispatchError(w, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		utils.RespondJSON(w, http.StatusAccepted, MutationResponse{Success: true, MutationID: ticket.ID})
		return
	}

	outcome, err := ticket.Wait(r.Context())
	if err != nil {
		// the mutation keeps running; its outcome still reaches the event stream
		utils.RespondJSON(w, http.StatusAccepted, MutationResponse{Success: true, MutationID: ticket.ID})
		return
	}
	utils.RespondJSON(w, http.StatusOK, MutationResponse{
		Success:    outcome.Committed,
		MutationID: ticket.ID,
		Outcome:    &outcome,
	})
}

// GetDispatchStatus reports pending work and feed counters
// GET /api/dispatch/status
func GetDispatchStatus(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":            true,
			"mutationInProgress": dash.MutationInProgress(),
			"stats":              dash.Stats(),
		})
	}
}

// Reload refetches the fleet
// POST /api/reload
func Reload(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := dash.Load(r.Context()); err != nil {
			var validation *mutation.ValidationError
			if errors.As(err, &validation) {
				utils.RespondDispatchError(w, err)
				return
			}
			utils.RespondError(w, http.StatusBadGateway, err.Error())
			return
		}

		snap, err := dash.Snapshot(r.Context())
		if err != nil {
			utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    snap,
		})
	}
}
