package create

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/middleware/authn"
	"chat_service/internal/pairing"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// Request is optional; an empty body creates an invite without e-mailing it.
type Request struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type Response struct {
	resp.Response
	Code      string     `json:"code"`
	Link      string     `json:"link"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type InviteCreator interface {
	CreateInvite(ctx context.Context, creatorID, recipientEmail string) (pairing.Ticket, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	creator InviteCreator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.invite.create.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := authn.IdentityFrom(r.Context())
		if !ok {
			resp.Fail(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("failed to decode request body", sl.Err(err))

			resp.Fail(w, r, http.StatusBadRequest, "failed to decode request")

			return
		}

		if err := validate.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			if errors.As(err, &validateErr) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.ValidationError(validateErr))

				return
			}

			resp.Fail(w, r, http.StatusBadRequest, "invalid request")

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ticket, err := creator.CreateInvite(ctx, id.UserID, req.Email)
		if err != nil {
			log.Error("failed to create invite", sl.Err(err))

			if errors.Is(err, pairing.ErrCodeSpaceExhausted) {
				resp.Fail(w, r, http.StatusServiceUnavailable, "Failed to create invite")
				return
			}

			resp.ServerError(w, r, err)

			return
		}

		res := Response{
			Response: resp.OK(),
			Code:     ticket.Code,
			Link:     ticket.Link,
		}
		if !ticket.ExpiresAt.IsZero() {
			res.ExpiresAt = &ticket.ExpiresAt
		}

		render.JSON(w, r, res)
	}
}
