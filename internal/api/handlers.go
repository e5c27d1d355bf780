package api

import (
	"encoding/json"
	"net/http"

	"github.com/relaydb/relaydb/internal/dispatcher"
)

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleConnections reports the attached connections and transaction
// ownership, for debugging a stuck client.
func handleConnections(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.Snapshot())
	}
}
