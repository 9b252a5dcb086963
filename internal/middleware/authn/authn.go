package authn

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	resp "chat_service/internal/lib/api/response"
	"chat_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type ctxKey struct{}

type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// IdentityFrom returns the identity attached by Required or Optional.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(models.Identity)
	return id, ok
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// * Required rejects requests without a valid bearer token with 401.
func Required(log *slog.Logger, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn.Required"

			token := BearerToken(r)
			if token == "" {
				unauthorized(w, r, "missing token")
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				log.Debug("rejected token",
					slog.String("op", op),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("err", err.Error()),
				)

				unauthorized(w, r, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// * Optional attaches the identity when a valid token is present and lets
// anonymous requests through otherwise.
func Optional(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := BearerToken(r); token != "" {
				if id, err := verifier.Verify(token); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken reads the token from the Authorization header only.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}

// WebSocketToken reads the bearer token, falling back to the token query
// parameter when no Authorization header is sent. Browsers cannot set headers
// on websocket handshakes; REST routes must not accept it.
func WebSocketToken(r *http.Request) string {
	if r.Header.Get("Authorization") != "" {
		return BearerToken(r)
	}

	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, resp.Error(msg))
}
