package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"punchcard-go/internal/models"
	"punchcard-go/internal/notify"
	"punchcard-go/internal/store"
)

// PassBuilder produces signed Apple pass archives.
type PassBuilder interface {
	Build(ctx context.Context, cardID string) ([]byte, models.WalletPass, error)
}

// SaveLinker issues Google save-to-wallet URLs.
type SaveLinker interface {
	SaveLink(ctx context.Context, cardID string) (string, error)
}

// BalanceOrchestrator fans out wallet syncs after a balance change.
type BalanceOrchestrator interface {
	OnBalanceChanged(cardID, orgID string)
}

// WebPushSender is the web-push fallback channel.
type WebPushSender interface {
	VAPIDPublicKey() string
	Broadcast(ctx context.Context, orgID string, msg notify.Message) ([]notify.SendResult, error)
}

type Handler struct {
	Cards        store.CardStore
	Passes       store.PassStore
	Push         store.PushStore
	Users        store.UserStore
	Realtime     store.Realtime
	Builder      PassBuilder
	Google       SaveLinker
	Orchestrator BalanceOrchestrator
	WebPush      WebPushSender
}

func NewHandler(cards store.CardStore, passes store.PassStore, push store.PushStore, users store.UserStore, realtime store.Realtime) *Handler {
	return &Handler{
		Cards:    cards,
		Passes:   passes,
		Push:     push,
		Users:    users,
		Realtime: realtime,
	}
}

// RegisterRoutes wires every HTTP surface onto mux. The /v1 tree is the
// Apple PassKit web service protocol and its status codes are exact.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Apple PassKit web service (device-facing)
	mux.HandleFunc("POST /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", h.RegisterDeviceHandler)
	mux.HandleFunc("DELETE /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber}", h.UnregisterDeviceHandler)
	mux.HandleFunc("GET /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}", h.ListChangedSerialsHandler)
	mux.HandleFunc("GET /v1/passes/{passTypeIdentifier}/{serialNumber}", h.GetPassHandler)
	mux.HandleFunc("POST /v1/log", h.DeviceLogHandler)

	// Dashboard session
	mux.HandleFunc("POST /api/login", h.LoginHandler)
	mux.HandleFunc("POST /api/logout", h.LogoutHandler)
	mux.HandleFunc("GET /api/me", AuthMiddleware(h.GetCurrentUserHandler))
	mux.HandleFunc("PUT /api/profile", AuthMiddleware(h.UpdateProfileHandler))
	mux.HandleFunc("PUT /api/password", AuthMiddleware(h.ChangePasswordHandler))

	// Organizations and cards
	mux.HandleFunc("POST /api/orgs", AuthMiddleware(h.CreateOrganizationHandler))
	mux.HandleFunc("GET /api/orgs/{id}/cards", AuthMiddleware(h.GetCardsHandler))
	mux.HandleFunc("POST /api/orgs/{id}/cards", AuthMiddleware(h.CreateCardHandler))
	mux.HandleFunc("POST /api/cards/{id}/stamps/{index}/toggle", AuthMiddleware(h.ToggleStampHandler))
	mux.HandleFunc("POST /api/cards/{id}/redeem", AuthMiddleware(h.RedeemCardHandler))

	// Wallet provisioning
	mux.HandleFunc("GET /api/cards/{id}/pass.pkpass", AuthMiddleware(h.DownloadPassHandler))
	mux.HandleFunc("GET /api/cards/{id}/google-save-link", AuthMiddleware(h.GoogleSaveLinkHandler))

	// Web-push fallback channel
	mux.HandleFunc("GET /api/push/vapid-key", h.GetVAPIDKeyHandler)
	mux.HandleFunc("POST /api/push/subscribe", AuthMiddleware(h.SubscribePushHandler))
	mux.HandleFunc("POST /api/push/unsubscribe", AuthMiddleware(h.UnsubscribePushHandler))
	mux.HandleFunc("POST /api/orgs/{id}/push/send", AuthMiddleware(h.SendPushHandler))

	// Maintenance
	mux.HandleFunc("POST /api/admin/registrations/purge", AuthMiddleware(h.PurgeRegistrationsHandler))

	// Realtime dashboard stream
	mux.HandleFunc("GET /events", h.SSEHandler)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("Failed to encode response:", err)
	}
}

// SSEHandler streams card balance events to the dashboard. An optional
// ?org= query parameter filters to one organization.
func (h *Handler) SSEHandler(w http.ResponseWriter, r *http.Request) {
	if h.Realtime == nil {
		http.Error(w, "Realtime not available", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	orgFilter := r.URL.Query().Get("org")

	pubsub := h.Realtime.Subscribe(r.Context())
	defer pubsub.Close()

	ch := pubsub.Channel()

	fmt.Fprintf(w, "data: %s\n\n", "connected")
	flusher.Flush()

	for {
		select {
		case msg := <-ch:
			if orgFilter != "" {
				var ev models.CardEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.OrgID != orgFilter {
					continue
				}
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
