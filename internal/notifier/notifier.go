// Package notifier turns queued mail jobs into letters.
package notifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"chat_service/internal/lib/logger/sl"
	"chat_service/internal/models"
)

const PurposeInvite = "invite"

var (
	ErrMalformedMessage = errors.New("malformed mail message")
	ErrUnknownPurpose   = errors.New("unknown mail purpose")
)

type Sender interface {
	Send(to, subject, body string) error
}

type Notifier struct {
	log    *slog.Logger
	sender Sender
}

func New(log *slog.Logger, sender Sender) *Notifier {
	return &Notifier{
		log:    log,
		sender: sender,
	}
}

// * Handle decodes one queued job and sends the matching letter.
func (n *Notifier) Handle(body []byte) error {
	const op = "notifier.Handle"

	log := n.log.With(slog.String("op", op))

	var msg models.MailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("failed to unmarshal message", sl.Err(err))
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedMessage, err)
	}

	if msg.Email == "" || msg.Link == "" {
		log.Error("mail message without recipient or link")
		return fmt.Errorf("%s: %w", op, ErrMalformedMessage)
	}

	subject, text, err := Compose(msg)
	if err != nil {
		log.Error("failed to compose letter", slog.String("purpose", msg.Purpose))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := n.sender.Send(msg.Email, subject, text); err != nil {
		log.Error("failed to send message", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("message sent successfully", slog.String("purpose", msg.Purpose))

	return nil
}

// Compose renders the subject and body for a mail job.
func Compose(msg models.MailMessage) (string, string, error) {
	switch msg.Purpose {
	case PurposeInvite, "":
		return "You have been invited to chat",
			"Someone wants to start a conversation with you.\n\n" +
				"Open the link below and sign in to accept the invite:\n" +
				msg.Link + "\n",
			nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownPurpose, msg.Purpose)
	}
}
