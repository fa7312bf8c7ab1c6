package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"punchcard-go/internal/models"
)

// GetCurrentUserHandler returns the currently logged-in user's info
func (h *Handler) GetCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetCurrentUser(r)

	user, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

// UpdateProfileHandler updates the user's profile (username)
func (h *Handler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetCurrentUser(r)

	var req struct {
		Username string `json:"username"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.Users.UpdateUserProfile(r.Context(), userID, req.Username); err != nil {
		log.Printf("Failed to update profile: %v", err)
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ChangePasswordHandler changes the user's password after verifying the
// current one
func (h *Handler) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetCurrentUser(r)

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if !user.CheckPassword(req.CurrentPassword) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	hash, err := models.HashPassword(req.NewPassword)
	if err != nil {
		http.Error(w, "Failed to update password", http.StatusInternalServerError)
		return
	}

	if err := h.Users.UpdateUserPassword(r.Context(), userID, hash); err != nil {
		log.Printf("Failed to update password: %v", err)
		http.Error(w, "Failed to update password", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
