package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-feedback/backend/internal/handler/ws"
	"github.com/zhouzirui/z-feedback/backend/pkg/utils"
)

// SessionCounter reports how many dialogs are in progress.
type SessionCounter interface {
	ActiveSessions() int
}

// Routes selects the optional inbound transports to mount.
type Routes struct {
	// Webhook receives Telegram updates at WebhookPath when non-nil.
	Webhook     http.Handler
	WebhookPath string
	// Dialog enables the /ws/{userID} socket when non-nil.
	Dialog ws.Dialog
}

// NewRouter wires HTTP routes to the inbound transports.
func NewRouter(sessions SessionCounter, routes Routes) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", handleLiveness)
	r.Head("/", handleLiveness)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": sessions.ActiveSessions(),
		})
	})

	if routes.Webhook != nil && routes.WebhookPath != "" {
		r.Method(http.MethodPost, routes.WebhookPath, routes.Webhook)
	}

	if routes.Dialog != nil {
		ws.New(routes.Dialog).RegisterRoutes(r)
	}

	return r
}

func handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte("OK"))
	}
}
