package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"punchcard-go/internal/models"
	"punchcard-go/internal/notify"
)

// Web-push fallback channel endpoints.

// GetVAPIDKeyHandler returns the public VAPID key
func (h *Handler) GetVAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	if h.WebPush == nil {
		http.Error(w, "Web push not configured", http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"publicKey": h.WebPush.VAPIDPublicKey(),
	})
}

// SubscribePushHandler upserts the caller's subscription for an org
func (h *Handler) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetCurrentUser(r)

	var req struct {
		OrgID    string `json:"organization_id"`
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" || req.Endpoint == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.Push.SavePushSubscription(r.Context(), userID, req.OrgID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		log.Printf("Failed to save subscription: %v", err)
		http.Error(w, "Failed to save subscription", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UnsubscribePushHandler removes all of the caller's subscriptions
func (h *Handler) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetCurrentUser(r)

	if err := h.Push.DeletePushSubscriptionsByUser(r.Context(), userID); err != nil {
		log.Printf("Failed to delete subscriptions: %v", err)
		http.Error(w, "Failed to delete subscriptions", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// SendPushHandler fans a notification out to every subscriber of the org.
// Only admins and owners may send; the devices themselves are not
// authenticated beyond holding a stored subscription.
func (h *Handler) SendPushHandler(w http.ResponseWriter, r *http.Request) {
	if h.WebPush == nil {
		http.Error(w, "Web push not configured", http.StatusServiceUnavailable)
		return
	}

	orgID := r.PathValue("id")
	if _, ok := h.requireOrgRole(w, r, orgID, models.RoleAdmin, models.RoleOwner); !ok {
		return
	}

	var msg notify.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Title == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	results, err := h.WebPush.Broadcast(r.Context(), orgID, msg)
	if err != nil {
		log.Printf("Failed to broadcast push: %v", err)
		http.Error(w, "Failed to send notifications", http.StatusInternalServerError)
		return
	}

	sent := 0
	for _, res := range results {
		if res.OK {
			sent++
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sent":    sent,
		"failed":  len(results) - sent,
		"results": results,
	})
}
