package list

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

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Messages []models.Message `json:"messages"`
}

type MessageLister interface {
	ListMessages(ctx context.Context, conversationID, userID string, since time.Time) ([]models.Message, error)
}

// * New returns the conversation history, strictly after the optional RFC3339
// "since" cursor.
func New(log *slog.Logger, lister MessageLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.list.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := authn.IdentityFrom(r.Context())
		if !ok {
			resp.Fail(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				resp.Fail(w, r, http.StatusBadRequest, "invalid since cursor, expected RFC3339")
				return
			}
			since = parsed
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		msgs, err := lister.ListMessages(ctx, chi.URLParam(r, "id"), id.UserID, since)
		if err != nil {
			switch {
			case errors.Is(err, chat.ErrConversationNotFound):
				resp.Fail(w, r, http.StatusNotFound, chat.ErrConversationNotFound.Error())
			case errors.Is(err, chat.ErrForbidden):
				resp.Fail(w, r, http.StatusForbidden, chat.ErrForbidden.Error())
			default:
				log.Error("failed to list messages", sl.Err(err))

				resp.ServerError(w, r, err)
			}

			return
		}

		if msgs == nil {
			msgs = []models.Message{}
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Messages: msgs,
		})
	}
}
