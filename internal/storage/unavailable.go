package storage

import (
	"context"
	"fmt"
	"time"

	"chat_service/internal/models"
)

// Unavailable stands in for a backend that could not be reached at startup.
// Every call fails with ErrUnavailable so the service keeps answering health
// checks instead of exiting.
type Unavailable struct {
	Cause error
}

func (u Unavailable) err() error {
	if u.Cause == nil {
		return ErrUnavailable
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, u.Cause)
}

func (u Unavailable) SaveUser(context.Context, models.User) error { return u.err() }

func (u Unavailable) User(context.Context, string) (models.User, error) {
	return models.User{}, u.err()
}

func (u Unavailable) SaveInvite(context.Context, models.Invite) error { return u.err() }

func (u Unavailable) InviteByCode(context.Context, string) (models.Invite, error) {
	return models.Invite{}, u.err()
}

func (u Unavailable) AcceptInvite(context.Context, string, string, models.Conversation) (string, error) {
	return "", u.err()
}

func (u Unavailable) ReserveCode(context.Context, string, time.Time) (bool, error) {
	return false, u.err()
}

func (u Unavailable) SaveConversation(context.Context, models.Conversation) error { return u.err() }

func (u Unavailable) Conversation(context.Context, string) (models.Conversation, error) {
	return models.Conversation{}, u.err()
}

func (u Unavailable) ConversationsForUser(context.Context, string) ([]models.Conversation, error) {
	return nil, u.err()
}

func (u Unavailable) DirectConversation(context.Context, string, string) (models.Conversation, error) {
	return models.Conversation{}, u.err()
}

func (u Unavailable) TouchConversation(context.Context, string, time.Time) error { return u.err() }

func (u Unavailable) SaveMessage(context.Context, models.Message) error { return u.err() }

func (u Unavailable) Messages(context.Context, string, time.Time) ([]models.Message, error) {
	return nil, u.err()
}

func (u Unavailable) Ping(context.Context) error { return u.err() }

func (u Unavailable) Close() {}
