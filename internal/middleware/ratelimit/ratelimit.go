package rateLimit

import (
	"net/http"
	"time"

	resp "chat_service/internal/lib/api/response"
	"chat_service/internal/middleware/authn"

	httprate "github.com/go-chi/httprate"
	"github.com/go-chi/render"
)

func Login() func(http.Handler) http.Handler {
	return limitByIP(10, 5*time.Minute)
}

func Register() func(http.Handler) http.Handler {
	return limitByIP(5, time.Hour)
}

// InviteCreate bounds how fast one user can burn through the code space.
func InviteCreate() func(http.Handler) http.Handler {
	return limitByUser(20, time.Hour)
}

// InviteAccept slows down guessing of six digit codes.
func InviteAccept() func(http.Handler) http.Handler {
	return limitByUser(10, 10*time.Minute)
}

func SendMessage() func(http.Handler) http.Handler {
	return limitByUser(60, time.Minute)
}

func limitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// limitByUser keys on the authenticated user, so it must run after authn.Required.
func limitByUser(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(keyByUser),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func keyByUser(r *http.Request) (string, error) {
	if id, ok := authn.IdentityFrom(r.Context()); ok {
		return "user:" + id.UserID, nil
	}

	return httprate.KeyByIP(r)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, resp.Error("too many requests"))
}
