package notifier

import (
	"errors"
	"strings"
	"testing"

	"chat_service/internal/lib/logger/handlers/slogdiscard"
)

type fakeSender struct {
	to, subject, body string
	calls             int
	err               error
}

func (f *fakeSender) Send(to, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		sendErr   error
		wantErr   error
		wantCalls int
	}{
		{
			name:      "invite",
			body:      `{"to":"bob@example.com","link":"http://localhost:8080/invite/123456","purpose":"invite"}`,
			wantCalls: 1,
		},
		{
			name:    "not json",
			body:    `nope`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "missing recipient",
			body:    `{"link":"http://localhost:8080/invite/123456"}`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "unknown purpose",
			body:    `{"to":"bob@example.com","link":"x","purpose":"newsletter"}`,
			wantErr: ErrUnknownPurpose,
		},
		{
			name:      "smtp failure",
			body:      `{"to":"bob@example.com","link":"x","purpose":"invite"}`,
			sendErr:   errors.New("relay down"),
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{err: tt.sendErr}
			n := New(slogdiscard.NewDiscardLogger(), sender)

			err := n.Handle([]byte(tt.body))

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.sendErr != nil:
				if !errors.Is(err, tt.sendErr) {
					t.Fatalf("expected send error, got %v", err)
				}
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}

			if sender.calls != tt.wantCalls {
				t.Fatalf("expected %d sends, got %d", tt.wantCalls, sender.calls)
			}
		})
	}
}

func TestComposeInviteCarriesLink(t *testing.T) {
	sender := &fakeSender{}
	n := New(slogdiscard.NewDiscardLogger(), sender)

	link := "http://localhost:8080/invite/654321"
	if err := n.Handle([]byte(`{"to":"bob@example.com","link":"` + link + `","purpose":"invite"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if sender.to != "bob@example.com" || !strings.Contains(sender.body, link) || sender.subject == "" {
		t.Fatalf("unexpected letter to=%q subject=%q body=%q", sender.to, sender.subject, sender.body)
	}
}
