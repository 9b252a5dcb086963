package me

import (
	"net/http"

	resp "chat_service/internal/lib/api/response"
	"chat_service/internal/middleware/authn"
	"chat_service/internal/models"

	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	User models.Identity `json:"user"`
}

// New answers with the identity carried by the bearer token.
func New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := authn.IdentityFrom(r.Context())
		if !ok {
			resp.Fail(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     id,
		})
	}
}
