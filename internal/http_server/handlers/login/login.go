package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chat_service/internal/auth"
	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required"`
	Pass  string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	Token string `json:"token"`
}

type Authenticator interface {
	Login(ctx context.Context, email, pass string) (string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authenticator Authenticator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
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

		token, err := authenticator.Login(ctx, req.Email, req.Pass)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				resp.Fail(w, r, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())

				return
			}

			log.Error("failed to login user", sl.Err(err))

			resp.ServerError(w, r, err)

			return
		}

		log.Info("user logged in successfully")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Token:    token,
		})
	}
}
