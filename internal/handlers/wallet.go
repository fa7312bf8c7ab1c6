package handlers

import (
	"errors"
	"log"
	"net/http"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"
	"punchcard-go/internal/wallet"
)

// Dashboard-facing wallet provisioning endpoints.

// DownloadPassHandler serves the signed .pkpass for first-time install.
// The first download mints the pass record; later downloads reuse it.
func (h *Handler) DownloadPassHandler(w http.ResponseWriter, r *http.Request) {
	if h.Builder == nil {
		http.Error(w, "Apple Wallet not configured", http.StatusServiceUnavailable)
		return
	}

	cardID := r.PathValue("id")
	card, err := h.Cards.GetCard(r.Context(), cardID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get card", http.StatusInternalServerError)
		return
	}

	if _, ok := h.requireOrgRole(w, r, card.OrgID, models.RoleAdmin, models.RoleOwner, models.RoleMember); !ok {
		return
	}

	data, _, err := h.Builder.Build(r.Context(), cardID)
	if errors.Is(err, wallet.ErrSigning) {
		log.Printf("Pass signing failed: %v", err)
		http.Error(w, "Pass signing unavailable", http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Printf("Pass generation failed: %v", err)
		http.Error(w, "Failed to generate pass", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.pkpass")
	w.Header().Set("Content-Disposition", `attachment; filename="card.pkpass"`)
	w.Write(data)
}

// GoogleSaveLinkHandler returns the save-to-wallet URL for a card.
func (h *Handler) GoogleSaveLinkHandler(w http.ResponseWriter, r *http.Request) {
	if h.Google == nil {
		http.Error(w, "Google Wallet not configured", http.StatusServiceUnavailable)
		return
	}

	cardID := r.PathValue("id")
	card, err := h.Cards.GetCard(r.Context(), cardID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get card", http.StatusInternalServerError)
		return
	}

	if _, ok := h.requireOrgRole(w, r, card.OrgID, models.RoleAdmin, models.RoleOwner, models.RoleMember); !ok {
		return
	}

	link, err := h.Google.SaveLink(r.Context(), cardID)
	if err != nil {
		log.Printf("Failed to build save link: %v", err)
		http.Error(w, "Failed to build save link", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"url": link})
}
