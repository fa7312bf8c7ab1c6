package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"punchcard-go/internal/store"

	"github.com/gorilla/sessions"
)

var (
	sessionStore = sessions.NewCookieStore([]byte(sessionSecret()))
	sessionName  = "punchcard-session"
)

func sessionSecret() string {
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		return s
	}
	return "secret-key-change-in-production"
}

// LoginHandler handles dashboard login
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := h.Users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if !user.CheckPassword(req.Password) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	session, _ := sessionStore.Get(r, sessionName)
	session.Values["user_id"] = user.ID
	session.Values["username"] = user.Username
	session.Save(r, w)

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

// LogoutHandler clears the session
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionStore.Get(r, sessionName)
	session.Values["user_id"] = nil
	session.Options.MaxAge = -1
	session.Save(r, w)

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// AuthMiddleware checks if a user is logged in
func AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, _ := sessionStore.Get(r, sessionName)
		userID, ok := session.Values["user_id"].(int)
		if !ok || userID == 0 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// GetCurrentUser returns the current user id and username from the session
func GetCurrentUser(r *http.Request) (int, string) {
	session, _ := sessionStore.Get(r, sessionName)
	userID, _ := session.Values["user_id"].(int)
	username, _ := session.Values["username"].(string)
	return userID, username
}

// requireOrgRole checks the session user holds one of roles in the org.
// Writes the error response itself and reports whether the caller may
// proceed.
func (h *Handler) requireOrgRole(w http.ResponseWriter, r *http.Request, orgID string, roles ...string) (int, bool) {
	userID, _ := GetCurrentUser(r)
	if userID == 0 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}

	role, err := h.Users.GetMembershipRole(r.Context(), userID, orgID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return 0, false
	}
	if err != nil {
		http.Error(w, "Failed to check membership", http.StatusInternalServerError)
		return 0, false
	}

	for _, allowed := range roles {
		if role == allowed {
			return userID, true
		}
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
	return 0, false
}
