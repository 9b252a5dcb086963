package list

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/middleware/authn"
	"chat_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Conversations []models.Conversation `json:"conversations"`
}

type ConversationLister interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// * New lists the caller's conversations. Anonymous callers get an empty list.
func New(log *slog.Logger, lister ConversationLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.conversations.list.New"

		id, ok := authn.IdentityFrom(r.Context())
		if !ok {
			render.JSON(w, r, Response{
				Response:      resp.OK(),
				Conversations: []models.Conversation{},
			})

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		convs, err := lister.ListConversations(ctx, id.UserID)
		if err != nil {
			log.Error("failed to list conversations",
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				sl.Err(err),
			)

			resp.ServerError(w, r, err)

			return
		}

		if convs == nil {
			convs = []models.Conversation{}
		}

		render.JSON(w, r, Response{
			Response:      resp.OK(),
			Conversations: convs,
		})
	}
}
