package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/militapp/militapp/go/internal/docstore"
)

// WebSocketHandler handles watch stream upgrades
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rules             *AccessRules
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, rules *AccessRules) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rules:             rules,
	}
}

// HandleWatch streams changes of the document named by the path query parameter
func (h *WebSocketHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	userID := r.Header.Get(docstore.UserIDHeader)
	if err := h.rules.CanRead(r.Context(), userID, path); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrUnauthenticated) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	// The upgrader writes its own error response
	if err := h.connectionManager.UpgradeConnection(w, r, userID, path); err != nil {
		log.Error().
			Err(err).
			Str("path", path).
			Str("user_id", userID).
			Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(docstore.WatchRoute, h.HandleWatch)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

