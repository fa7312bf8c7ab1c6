package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"
)

// === Organization & Card Management ===

func (h *Handler) CreateOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetCurrentUser(r)

	var req struct {
		Name            string `json:"name"`
		MaxPoints       int    `json:"max_points"`
		ForegroundColor string `json:"foreground_color"`
		BackgroundColor string `json:"background_color"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	org, err := h.Cards.CreateOrganization(r.Context(), req.Name, req.MaxPoints, req.ForegroundColor, req.BackgroundColor)
	if err != nil {
		log.Printf("Failed to create organization: %v", err)
		http.Error(w, "Failed to create organization", http.StatusInternalServerError)
		return
	}

	if err := h.Users.AddMembership(r.Context(), userID, org.ID, models.RoleOwner); err != nil {
		log.Printf("Failed to add owner membership: %v", err)
		http.Error(w, "Failed to create organization", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"organization": org})
}

func (h *Handler) GetCardsHandler(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("id")
	if _, ok := h.requireOrgRole(w, r, orgID, models.RoleAdmin, models.RoleOwner, models.RoleMember); !ok {
		return
	}

	cards, err := h.Cards.GetCards(r.Context(), orgID)
	if err != nil {
		http.Error(w, "Failed to get cards", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"cards": cards, "count": len(cards)})
}

func (h *Handler) CreateCardHandler(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("id")
	userID, ok := h.requireOrgRole(w, r, orgID, models.RoleAdmin, models.RoleOwner)
	if !ok {
		return
	}

	var req struct {
		UserID int `json:"user_id"`
	}
	// Body is optional; an empty body enrolls the acting user.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.UserID == 0 {
		req.UserID = userID
	}

	card, err := h.Cards.CreateCard(r.Context(), orgID, req.UserID)
	if err != nil {
		log.Printf("Failed to create card: %v", err)
		http.Error(w, "Failed to create card", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"card": card, "balance": card.Balance()})
}

// === Balance Mutations ===

// ToggleStampHandler flips one stamp slot. The wallet fan-out is
// fire-and-forget: the toggle succeeds even if every wallet sync fails.
func (h *Handler) ToggleStampHandler(w http.ResponseWriter, r *http.Request) {
	cardID := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "Invalid stamp index", http.StatusBadRequest)
		return
	}

	card, err := h.Cards.GetCard(r.Context(), cardID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Card not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get card", http.StatusInternalServerError)
		return
	}

	actorID, ok := h.requireOrgRole(w, r, card.OrgID, models.RoleAdmin, models.RoleOwner)
	if !ok {
		return
	}

	card, err = h.Cards.ToggleStamp(r.Context(), cardID, index, actorID)
	if err != nil {
		log.Printf("Failed to toggle stamp: %v", err)
		http.Error(w, "Failed to toggle stamp", http.StatusBadRequest)
		return
	}

	h.afterBalanceChange(r, card)
	respondJSON(w, http.StatusOK, map[string]any{"card": card, "balance": card.Balance()})
}

func (h *Handler) RedeemCardHandler(w http.ResponseWriter, r *http.Request) {
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

	actorID, ok := h.requireOrgRole(w, r, card.OrgID, models.RoleAdmin, models.RoleOwner)
	if !ok {
		return
	}

	card, err = h.Cards.RedeemCard(r.Context(), cardID, actorID)
	if err != nil {
		log.Printf("Failed to redeem card: %v", err)
		http.Error(w, "Failed to redeem card", http.StatusInternalServerError)
		return
	}

	h.afterBalanceChange(r, card)
	respondJSON(w, http.StatusOK, map[string]any{"card": card, "balance": card.Balance()})
}

// afterBalanceChange publishes the realtime event and kicks off the wallet
// fan-out. Neither can fail the request that changed the balance.
func (h *Handler) afterBalanceChange(r *http.Request, card models.Card) {
	if h.Realtime != nil {
		ev := models.CardEvent{
			CardID:     card.ID,
			OrgID:      card.OrgID,
			Points:     card.Points,
			MaxPoints:  card.MaxPoints,
			Balance:    card.Balance(),
			OccurredAt: time.Now().UTC(),
		}
		if err := h.Realtime.PublishCardEvent(r.Context(), ev); err != nil {
			log.Printf("Failed to publish card event: %v", err)
		}
	}

	if h.Orchestrator != nil {
		h.Orchestrator.OnBalanceChanged(card.ID, card.OrgID)
	}
}
