package health

import (
	"context"
	"net/http"
	"time"

	resp "chat_service/internal/lib/api/response"

	"github.com/go-chi/render"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type DBStatus struct {
	Driver    string `json:"driver"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type Response struct {
	resp.Response
	Name string   `json:"name"`
	DB   DBStatus `json:"db"`
}

// * New always answers 200 while the process is up and reports the store
// state in the body.
func New(name, driver string, db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := DBStatus{Driver: driver, Connected: true}
		if err := db.Ping(ctx); err != nil {
			status.Connected = false
			status.Error = err.Error()
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Name:     name,
			DB:       status,
		})
	}
}
