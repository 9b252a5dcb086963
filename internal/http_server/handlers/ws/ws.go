package ws

import (
	"log/slog"
	"net/http"
	"time"

	resp "chat_service/internal/lib/api/response"
	"chat_service/internal/middleware/authn"
	"chat_service/internal/models"
	hub "chat_service/internal/ws"

	"github.com/go-chi/chi/middleware"
	"nhooyr.io/websocket"
)

type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// * New upgrades the connection and streams events addressed to the caller.
// Browsers cannot set headers on websocket requests, so the token may come
// from the "token" query parameter.
func New(
	log *slog.Logger,
	verifier TokenVerifier,
	h *hub.Hub,
	originPatterns []string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ws.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		token := authn.WebSocketToken(r)
		if token == "" {
			resp.Fail(w, r, http.StatusUnauthorized, "missing token")
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			resp.Fail(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		// the server write timeout would otherwise cut long lived connections
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})
		_ = rc.SetReadDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Warn("websocket upgrade failed", slog.String("err", err.Error()))
			return
		}

		// push only, but control frames still have to be read
		ctx := conn.CloseRead(r.Context())

		client := h.AddClient(id.UserID, conn)
		defer h.RemoveClient(client)

		log.Debug("websocket client connected", slog.String("user_id", id.UserID))

		select {
		case <-ctx.Done():
		case <-client.Done():
		}
	}
}
