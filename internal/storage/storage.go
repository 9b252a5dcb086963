package storage

import (
	"context"
	"errors"
	"time"

	"chat_service/internal/models"
)

var (
	ErrUserExists            = errors.New("user already exists")
	ErrUserNotFound          = errors.New("user not found")
	ErrInviteNotFound        = errors.New("invite not found")
	ErrInviteAlreadyAccepted = errors.New("invite already accepted")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationExists    = errors.New("conversation already exists")
	ErrUnavailable           = errors.New("storage unavailable")
)

// Storage is the full set of persistence operations a backend provides.
// Services depend on narrower interfaces declared next to them.
type Storage interface {
	SaveUser(ctx context.Context, user models.User) error
	User(ctx context.Context, email string) (models.User, error)

	SaveInvite(ctx context.Context, invite models.Invite) error
	InviteByCode(ctx context.Context, code string) (models.Invite, error)
	// AcceptInvite marks the invite accepted by acceptorID and returns the linked
	// conversation id. If no conversation is linked yet, conv is created and linked in
	// the same step. Accepting an invite already accepted by another user returns
	// ErrInviteAlreadyAccepted; replays by the same acceptor return the linked id.
	AcceptInvite(ctx context.Context, inviteID, acceptorID string, conv models.Conversation) (string, error)
	// ReserveCode claims an invite code until the given time. It reports false when
	// the code is held by another live reservation. A zero until never expires.
	ReserveCode(ctx context.Context, code string, until time.Time) (bool, error)

	// SaveConversation returns ErrConversationExists when conv carries a PairKey
	// already held by another conversation.
	SaveConversation(ctx context.Context, conv models.Conversation) error
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	DirectConversation(ctx context.Context, userA, userB string) (models.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	SaveMessage(ctx context.Context, msg models.Message) error
	Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close()
}
