package send

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

type Flags struct {
	HideFromAI bool `json:"hideFromAI"`
}

type Request struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Text           string `json:"text"`
	Type           string `json:"type" validate:"omitempty,oneof=text gift"`
	Flags          Flags  `json:"flags"`
}

type Response struct {
	resp.Response
	Message models.Message `json:"message"`
}

type MessageAppender interface {
	AppendMessage(ctx context.Context, in chat.NewMessage) (models.Message, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	appender MessageAppender,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.send.New"

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

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		msg, err := appender.AppendMessage(ctx, chat.NewMessage{
			ConversationID: req.ConversationID,
			SenderID:       id.UserID,
			Text:           req.Text,
			Type:           req.Type,
			HiddenFromAI:   req.Flags.HideFromAI,
		})
		if err != nil {
			switch {
			case errors.Is(err, chat.ErrEmptyMessage):
				resp.Fail(w, r, http.StatusBadRequest, chat.ErrEmptyMessage.Error())
			case errors.Is(err, chat.ErrMessageTooLong):
				resp.Fail(w, r, http.StatusBadRequest, chat.ErrMessageTooLong.Error())
			case errors.Is(err, chat.ErrUnknownMessageType):
				resp.Fail(w, r, http.StatusBadRequest, chat.ErrUnknownMessageType.Error())
			case errors.Is(err, chat.ErrConversationNotFound):
				resp.Fail(w, r, http.StatusNotFound, chat.ErrConversationNotFound.Error())
			case errors.Is(err, chat.ErrForbidden):
				resp.Fail(w, r, http.StatusForbidden, chat.ErrForbidden.Error())
			default:
				log.Error("failed to send message", sl.Err(err))

				resp.ServerError(w, r, err)
			}

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  msg,
		})
	}
}
