package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/middleware"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

const attachTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the token authenticates the browser, not its origin
		return true
	},
}

// HandleWebSocket upgrades a dispatcher's browser to the event stream.
// The token comes from the query string since browsers cannot set headers
// on a websocket handshake; a request that already passed Auth is accepted too.
func HandleWebSocket(hub *Hub, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userClaims middleware.UserClaims

		if tokenString := r.URL.Query().Get("token"); tokenString != "" {
			claims, err := middleware.ParseToken(secret, tokenString)
			if err != nil {
				hub.log.Errorf("❌ [WEBSOCKET] Invalid token in query parameter: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userClaims = claims
		} else {
			var ok bool
			userClaims, ok = middleware.GetUserFromContext(r)
			if !ok {
				hub.log.Errorf("❌ [WEBSOCKET] No user for connection from %s", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		if userClaims.Role != models.RoleDispatcher && userClaims.Role != models.RoleAdmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Errorf("❌ [WEBSOCKET] Upgrade failed: %v", err)
			return
		}

		client := NewClient(userClaims.UserID, userClaims.Role, conn, hub)

		ctx, cancel := context.WithTimeout(context.Background(), attachTimeout)
		defer cancel()
		if err := hub.Attach(ctx, client); err != nil {
			hub.log.Errorf("❌ [WEBSOCKET] Snapshot for %s failed: %v", userClaims.Email, err)
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
