package accept

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	resp "chat_service/internal/lib/api/response"
	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/middleware/authn"
	"chat_service/internal/pairing"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Request struct {
	Code string `json:"code"`
}

type Response struct {
	resp.Response
	ConversationID string `json:"conversationId"`
}

type InviteAcceptor interface {
	AcceptInvite(ctx context.Context, code, acceptorID string) (string, error)
}

func New(log *slog.Logger, acceptor InviteAcceptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.invite.accept.New"

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

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		convID, err := acceptor.AcceptInvite(ctx, req.Code, id.UserID)
		if err != nil {
			switch {
			case errors.Is(err, pairing.ErrEmptyCode):
				resp.Fail(w, r, http.StatusBadRequest, pairing.ErrEmptyCode.Error())
			case errors.Is(err, pairing.ErrInviteNotFound):
				resp.Fail(w, r, http.StatusNotFound, "Invalid code")
			case errors.Is(err, pairing.ErrInviteExpired):
				resp.Fail(w, r, http.StatusBadRequest, "Invite expired")
			case errors.Is(err, pairing.ErrSelfAccept):
				resp.Fail(w, r, http.StatusBadRequest, "Cannot accept your own invite")
			case errors.Is(err, pairing.ErrInviteAlreadyAccepted):
				resp.Fail(w, r, http.StatusConflict, "Invite already accepted")
			default:
				log.Error("failed to accept invite", sl.Err(err))

				resp.ServerError(w, r, err)
			}

			return
		}

		render.JSON(w, r, Response{
			Response:       resp.OK(),
			ConversationID: convID,
		})
	}
}
