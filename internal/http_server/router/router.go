package router

import (
	"log/slog"
	"net/http"
	"net/url"

	"chat_service/internal/auth"
	"chat_service/internal/chat"
	convcreate "chat_service/internal/http_server/handlers/conversations/create"
	convlist "chat_service/internal/http_server/handlers/conversations/list"
	"chat_service/internal/http_server/handlers/health"
	"chat_service/internal/http_server/handlers/invite/accept"
	invitecreate "chat_service/internal/http_server/handlers/invite/create"
	"chat_service/internal/http_server/handlers/login"
	"chat_service/internal/http_server/handlers/me"
	msglist "chat_service/internal/http_server/handlers/messages/list"
	"chat_service/internal/http_server/handlers/messages/send"
	"chat_service/internal/http_server/handlers/register"
	wshandler "chat_service/internal/http_server/handlers/ws"
	resp "chat_service/internal/lib/api/response"
	"chat_service/internal/lib/jwt"
	"chat_service/internal/middleware/authn"
	rateLimit "chat_service/internal/middleware/ratelimit"
	"chat_service/internal/pairing"
	"chat_service/internal/telemetry"
	"chat_service/internal/ws"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const ServiceName = "chat_service"

type Deps struct {
	Auth    *auth.Auth
	Tokens  *jwt.Issuer
	Pairing *pairing.Pairing
	Chat    *chat.Chat
	Hub     *ws.Hub
	DB      health.Pinger

	StorageDriver  string
	APIPrefix      string
	AllowedOrigins []string
	// DisableRateLimits turns off per-route limits for tests that hammer one route.
	DisableRateLimits bool
}

// * New wires every route under the API prefix.
func New(log *slog.Logger, d Deps) *chi.Mux {
	validate := validator.New()

	limit := func(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
		if d.DisableRateLimits {
			return func(next http.Handler) http.Handler { return next }
		}
		return mw
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		resp.Fail(w, r, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		resp.Fail(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{
			"name":   ServiceName,
			"status": "running",
			"docs":   "See " + d.APIPrefix + "/health for service status",
		})
	})

	requireAuth := authn.Required(log, d.Tokens)

	r.Route(prefix(d.APIPrefix), func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health", health.New(ServiceName, d.StorageDriver, d.DB))

		r.With(limit(rateLimit.Register())).Post("/auth/register", register.New(log, validate, d.Auth))
		r.With(limit(rateLimit.Login())).Post("/auth/login", login.New(log, validate, d.Auth))
		r.With(requireAuth).Get("/auth/me", me.New())

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.With(limit(rateLimit.InviteCreate())).Post("/invite/create", invitecreate.New(log, validate, d.Pairing))
			r.With(limit(rateLimit.InviteAccept())).Post("/invite/accept", accept.New(log, d.Pairing))

			r.Post("/conversations", convcreate.New(log, validate, d.Chat))
			r.Get("/conversations/{id}/messages", msglist.New(log, d.Chat))
			r.With(limit(rateLimit.SendMessage())).Post("/messages", send.New(log, validate, d.Chat))
		})

		r.With(authn.Optional(d.Tokens)).Get("/conversations", convlist.New(log, d.Chat))

		r.Get("/ws", wshandler.New(log, d.Tokens, d.Hub, originPatterns(d.AllowedOrigins)))
	})

	return r
}

func prefix(p string) string {
	if p == "" {
		return "/"
	}

	return p
}

// originPatterns turns CORS origins into the host patterns the websocket
// origin check expects.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))

	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, "*")
			continue
		}

		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}

		patterns = append(patterns, u.Host)
	}

	return patterns
}
