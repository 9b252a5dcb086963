package create

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chat_service/internal/chat"
	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/middleware/authn"
	"chat_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	PartnerID string `json:"partnerId" validate:"required"`
	AIEnabled *bool  `json:"aiEnabled"`
}

type Response struct {
	resp.Response
	Conversation models.Conversation `json:"conversation"`
}

type ConversationEnsurer interface {
	EnsureConversation(ctx context.Context, userID, partnerID string, aiEnabled bool) (models.Conversation, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	ensurer ConversationEnsurer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.conversations.create.New"

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

		aiEnabled := true
		if req.AIEnabled != nil {
			aiEnabled = *req.AIEnabled
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		conv, err := ensurer.EnsureConversation(ctx, id.UserID, req.PartnerID, aiEnabled)
		if err != nil {
			if errors.Is(err, chat.ErrSelfConversation) {
				resp.Fail(w, r, http.StatusBadRequest, chat.ErrSelfConversation.Error())
				return
			}

			log.Error("failed to create conversation", sl.Err(err))

			resp.ServerError(w, r, err)

			return
		}

		render.JSON(w, r, Response{
			Response:     resp.OK(),
			Conversation: conv,
		})
	}
}
