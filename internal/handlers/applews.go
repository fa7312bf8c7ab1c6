package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"
	"punchcard-go/internal/wallet"
)

// Apple PassKit web service endpoints. Status codes here are mandated by
// the protocol and must not change.

// authorizePass checks the ApplePass bearer token against the stored pass
// record's authentication token.
func authorizePass(r *http.Request, pass models.WalletPass) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "ApplePass ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(pass.AuthToken)) == 1
}

// RegisterDeviceHandler handles
// POST /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}
func (h *Handler) RegisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceLibraryIdentifier")
	passTypeID := r.PathValue("passTypeIdentifier")
	serial := r.PathValue("serialNumber")

	pass, err := h.Passes.GetWalletPass(r.Context(), serial)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !authorizePass(r, pass) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req struct {
		PushToken string `json:"pushToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PushToken == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	created, err := h.Passes.UpsertRegistration(r.Context(), deviceID, passTypeID, serial, req.PushToken)
	if err != nil {
		log.Printf("Failed to register device %s: %v", deviceID, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

// UnregisterDeviceHandler handles DELETE on the registration path.
func (h *Handler) UnregisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceLibraryIdentifier")
	passTypeID := r.PathValue("passTypeIdentifier")
	serial := r.PathValue("serialNumber")

	pass, err := h.Passes.GetWalletPass(r.Context(), serial)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !authorizePass(r, pass) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if err := h.Passes.DeleteRegistration(r.Context(), deviceID, passTypeID, serial); err != nil {
		log.Printf("Failed to unregister device %s: %v", deviceID, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ListChangedSerialsHandler handles
// GET /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}?passesUpdatedSince=<ts>
func (h *Handler) ListChangedSerialsHandler(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceLibraryIdentifier")
	passTypeID := r.PathValue("passTypeIdentifier")

	var since *time.Time
	if raw := r.URL.Query().Get("passesUpdatedSince"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t := time.Unix(secs, 0)
			since = &t
		}
	}

	serials, last, err := h.Passes.ChangedSerials(r.Context(), deviceID, passTypeID, since)
	if err != nil {
		log.Printf("Failed to list changed serials for %s: %v", deviceID, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// Zero matches is 204, not an empty array.
	if len(serials) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"serialNumbers": serials,
		"lastUpdated":   strconv.FormatInt(last.Unix(), 10),
	})
}

// GetPassHandler handles GET /v1/passes/{passTypeIdentifier}/{serialNumber},
// honoring If-Modified-Since against the pass record's last update.
func (h *Handler) GetPassHandler(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serialNumber")

	pass, err := h.Passes.GetWalletPass(r.Context(), serial)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !authorizePass(r, pass) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil {
			if !pass.UpdatedAt.Truncate(time.Second).After(t) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	data, pass, err := h.Builder.Build(r.Context(), pass.CardID)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if errors.Is(err, wallet.ErrSigning) {
		log.Printf("Pass signing for serial %s failed: %v", serial, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Printf("Pass generation for serial %s failed: %v", serial, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.pkpass")
	w.Header().Set("Last-Modified", pass.UpdatedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeviceLogHandler handles POST /v1/log. Always 200.
func (h *Handler) DeviceLogHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Logs []string `json:"logs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		for _, line := range req.Logs {
			log.Printf("PassKit device log: %s", line)
		}
	}
	w.WriteHeader(http.StatusOK)
}
