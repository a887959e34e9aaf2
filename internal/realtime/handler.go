package realtime

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/rfletcher/taskdeck/internal/auth"
)

// HandleWebSocket returns an HTTP handler that upgrades the connection and
// runs it as a hub client keyed by the authenticated owner.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := auth.UserID(r.Context())
		if ownerID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Error("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, ownerID)
		client.Run(r.Context())
	}
}
