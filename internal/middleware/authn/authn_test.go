package authn

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chat_service/internal/lib/logger/handlers/slogdiscard"
	"chat_service/internal/models"
)

type stubVerifier map[string]models.Identity

func (s stubVerifier) Verify(token string) (models.Identity, error) {
	id, ok := s[token]
	if !ok {
		return models.Identity{}, errors.New("bad token")
	}
	return id, nil
}

var verifier = stubVerifier{"good": {UserID: "u1", Email: "a@example.com"}}

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, _ = w.Write([]byte(id.UserID))
}

func TestRequired(t *testing.T) {
	h := Required(slogdiscard.NewDiscardLogger(), verifier)(http.HandlerFunc(echoIdentity))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{name: "bearer", header: "Bearer good", wantStatus: http.StatusOK, wantBody: "u1"},
		{name: "lowercase scheme", header: "bearer good", wantStatus: http.StatusOK, wantBody: "u1"},
		{name: "query token", query: "?token=good", wantStatus: http.StatusUnauthorized},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer forged", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Fatalf("expected body %q, got %q", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestOptional(t *testing.T) {
	h := Optional(verifier)(http.HandlerFunc(echoIdentity))

	for _, header := range []string{"", "Bearer forged"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("header %q: expected anonymous pass through, got %d", header, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Body.String() != "u1" {
		t.Fatalf("expected identity, got %q", w.Body.String())
	}
}

func TestOptionalIgnoresQueryToken(t *testing.T) {
	h := Optional(verifier)(http.HandlerFunc(echoIdentity))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?token=good", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected anonymous request, got %d", w.Code)
	}
}

func TestWebSocketToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header", header: "Bearer good", want: "good"},
		{name: "query", query: "?token=good", want: "good"},
		{name: "header wins", header: "Bearer good", query: "?token=other", want: "good"},
		{name: "bad header does not fall back", header: "Basic x", query: "?token=good", want: ""},
		{name: "none", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			if got := WebSocketToken(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if tt.header == "" && BearerToken(req) != "" {
				t.Fatal("bearer token must not read the query string")
			}
		})
	}
}
