package server

import (
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"activeSessions": s.usage.Sessions(),
		"uptimeSeconds":  int64(time.Since(s.started).Seconds()),
	})
}

// handlePulse reports a live snapshot of the ledger and session activity.
// It is an operator endpoint; balances are keyed by opaque session ids.
func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	led, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Error("pulse ledger load failed", map[string]any{"err": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "ledger unavailable",
		})
		return
	}

	recent := led.ConsumedTxs
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	// ledgerState is the bare session-to-credits map; existing pulse
	// consumers depend on that shape.
	writeJSON(w, http.StatusOK, map[string]any{
		"activeSessions":       s.usage.Sessions(),
		"totalHashesProcessed": len(led.ConsumedTxs),
		"recentHashes":         recent,
		"ledgerState":          led.Credits,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})
}
