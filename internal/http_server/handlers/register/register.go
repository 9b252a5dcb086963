package register

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
	Email string `json:"email" validate:"required,email"`
	Pass  string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	Token string `json:"token"`
}

type Registrar interface {
	Register(ctx context.Context, email, pass string) (string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	registrar Registrar,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		token, err := registrar.Register(ctx, req.Email, req.Pass)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrWeakPassword):
				resp.Fail(w, r, http.StatusBadRequest, auth.ErrWeakPassword.Error())
			case errors.Is(err, auth.ErrUserExists):
				resp.Fail(w, r, http.StatusBadRequest, auth.ErrUserExists.Error())
			default:
				log.Error("failed to register user", sl.Err(err))

				resp.ServerError(w, r, err)
			}

			return
		}

		log.Info("user registered")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Token:    token,
		})
	}
}
