package admin

import (
	"encoding/json"
	"net/http"

	"github.com/maxpert/isolevel/protocol"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds admin request bodies
const maxBodyBytes = 64 << 10

// AdminHandlers serves isolation state over HTTP
type AdminHandlers struct {
	server   *protocol.ServerIsolation
	sessions *protocol.SessionRegistry
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(server *protocol.ServerIsolation, sessions *protocol.SessionRegistry) *AdminHandlers {
	if sessions == nil {
		sessions = protocol.NewSessionRegistry()
	}
	return &AdminHandlers{
		server:   server,
		sessions: sessions,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// decodeJSONBody decodes a bounded JSON request body into v
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
