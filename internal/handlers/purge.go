package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"
)

// === Registration Hygiene ===

// PurgeRegistrationsHandler deletes Apple registrations whose device has not
// checked in for the given number of days (default 180). Pass records are
// untouched so a reinstalled device can re-register against the same serial.
func (h *Handler) PurgeRegistrationsHandler(w http.ResponseWriter, r *http.Request) {
	days := 180
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid days", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	purged, err := h.Passes.PurgeStaleRegistrations(r.Context(), cutoff)
	if err != nil {
		log.Printf("Failed to purge registrations: %v", err)
		http.Error(w, "Failed to purge registrations", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "purged": purged})
}
