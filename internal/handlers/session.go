package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/connection"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/pkg/utils"
)

type SelectRequest struct {
	Kind   models.EntityKind `json:"kind"`
	ID     string            `json:"id"`
	Toggle bool              `json:"toggle"`
}

type ConnectRequest struct {
	URL string `json:"url"`
}

// GetSelection GET /api/selection
func GetSelection(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		selected, ok := dash.Selected()
		if !ok {
			utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": nil})
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": selected})
	}
}

// SetSelection POST /api/selection
func SetSelection(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Kind != models.KindDriver && req.Kind != models.KindDelivery {
			utils.RespondError(w, http.StatusBadRequest, "kind must be 'driver' or 'delivery'")
			return
		}
		if req.ID == "" {
			utils.RespondError(w, http.StatusBadRequest, "id is required")
			return
		}

		ref := models.EntityRef{Kind: req.Kind, ID: req.ID}
		if req.Toggle {
			dash.ToggleSelection(ref)
		} else {
			dash.Select(ref)
		}
		GetSelection(dash)(w, r)
	}
}

// ClearSelection DELETE /api/selection
func ClearSelection(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dash.Deselect()
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

// GetConnection GET /api/connection
func GetConnection(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    dash.Connection(),
		})
	}
}

// ConnectFeed POST /api/connection/connect with an optional {"url": "..."}
func ConnectFeed(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConnectRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
		}

		if err := dash.Connect(req.URL); err != nil {
			if errors.Is(err, connection.ErrNoURL) {
				utils.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		utils.RespondJSON(w, http.StatusAccepted, map[string]interface{}{
			"success": true,
			"data":    dash.Connection(),
		})
	}
}

// DisconnectFeed POST /api/connection/disconnect
func DisconnectFeed(dash Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dash.Disconnect()
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    dash.Connection(),
		})
	}
}
