package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/models"
	"chat_service/internal/storage"

	"github.com/google/uuid"
)

// MaxMessageLen caps message text in characters.
const MaxMessageLen = 4000

// timestampPrecision is the coarsest precision among the backends (BSON dates).
// Timestamps are cut to it on creation so the value returned to the caller is
// the value stored and a valid since cursor.
const timestampPrecision = time.Millisecond

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrForbidden            = errors.New("not a member of this conversation")
	ErrEmptyMessage         = errors.New("text is required")
	ErrMessageTooLong       = errors.New("text is too long")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

type ConversationStore interface {
	SaveConversation(ctx context.Context, conv models.Conversation) error
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	DirectConversation(ctx context.Context, userA, userB string) (models.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

type MessageStore interface {
	SaveMessage(ctx context.Context, msg models.Message) error
	Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error)
}

// Broadcaster pushes events to connected members. Delivery is best effort.
type Broadcaster interface {
	Broadcast(userIDs []string, ev models.Event)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

type Chat struct {
	log           *slog.Logger
	conversations ConversationStore
	messages      MessageStore
	hub           Broadcaster
	events        EventPublisher
	now           func() time.Time

	stampMu   sync.Mutex
	lastStamp time.Time
}

type NewMessage struct {
	ConversationID string
	SenderID       string
	Text           string
	Type           string
	HiddenFromAI   bool
}

func New(
	log *slog.Logger,
	conversations ConversationStore,
	messages MessageStore,
	hub Broadcaster,
	events EventPublisher,
) *Chat {
	return &Chat{
		log:           log,
		conversations: conversations,
		messages:      messages,
		hub:           hub,
		events:        events,
		now:           time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *Chat) WithClock(now func() time.Time) *Chat {
	c.now = now
	return c
}

// * CreateConversation stores a new conversation with the given members
func (c *Chat) CreateConversation(ctx context.Context, members []string, aiEnabled bool) (models.Conversation, error) {
	const op = "chat.CreateConversation"

	conv := c.newConversation(members, aiEnabled)

	if err := c.conversations.SaveConversation(ctx, conv); err != nil {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

// messageStamp returns a creation time at store precision that is strictly
// later than any stamp this instance handed out before, so two messages never
// share a since cursor.
func (c *Chat) messageStamp() time.Time {
	c.stampMu.Lock()
	defer c.stampMu.Unlock()

	t := c.now().UTC().Truncate(timestampPrecision)
	if !t.After(c.lastStamp) {
		t = c.lastStamp.Add(timestampPrecision)
	}
	c.lastStamp = t

	return t
}

func (c *Chat) newConversation(members []string, aiEnabled bool) models.Conversation {
	now := c.now().UTC().Truncate(timestampPrecision)

	return models.Conversation{
		ID:        uuid.NewString(),
		Members:   members,
		AIEnabled: aiEnabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// * EnsureConversation returns the 1:1 conversation between the two users,
// creating it when none exists.
func (c *Chat) EnsureConversation(ctx context.Context, userID, partnerID string, aiEnabled bool) (models.Conversation, error) {
	const op = "chat.EnsureConversation"

	log := c.log.With(slog.String("op", op))

	if userID == partnerID {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, ErrSelfConversation)
	}

	conv, err := c.conversations.DirectConversation(ctx, userID, partnerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, storage.ErrConversationNotFound) {
		log.Error("failed to look up conversation", sl.Err(err))
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	conv = c.newConversation([]string{userID, partnerID}, aiEnabled)
	conv.PairKey = models.DirectPairKey(userID, partnerID)

	if err := c.conversations.SaveConversation(ctx, conv); err != nil {
		if errors.Is(err, storage.ErrConversationExists) {
			// a concurrent request opened it first
			conv, err := c.conversations.DirectConversation(ctx, userID, partnerID)
			if err != nil {
				return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
			}

			return conv, nil
		}

		log.Error("failed to create conversation", sl.Err(err))
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("conversation created", slog.String("conversation_id", conv.ID))

	return conv, nil
}

// * ListConversations returns the user's conversations, most recently active first
func (c *Chat) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	const op = "chat.ListConversations"

	convs, err := c.conversations.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return convs, nil
}

// * AppendMessage stores a message from a member and bumps the conversation
func (c *Chat) AppendMessage(ctx context.Context, in NewMessage) (models.Message, error) {
	const op = "chat.AppendMessage"

	log := c.log.With(
		slog.String("op", op),
		slog.String("conversation_id", in.ConversationID),
	)

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return models.Message{}, fmt.Errorf("%s: %w", op, ErrEmptyMessage)
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return models.Message{}, fmt.Errorf("%s: %w", op, ErrMessageTooLong)
	}

	typ := in.Type
	if typ == "" {
		typ = models.MessageTypeText
	}
	if typ != models.MessageTypeText && typ != models.MessageTypeGift {
		return models.Message{}, fmt.Errorf("%s: %w", op, ErrUnknownMessageType)
	}

	conv, err := c.memberConversation(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return models.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Text:           text,
		Type:           typ,
		HiddenFromAI:   in.HiddenFromAI,
		CreatedAt:      c.messageStamp(),
	}

	if err := c.messages.SaveMessage(ctx, msg); err != nil {
		log.Error("failed to save message", sl.Err(err))
		return models.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := c.conversations.TouchConversation(ctx, conv.ID, msg.CreatedAt); err != nil {
		log.Warn("failed to touch conversation", sl.Err(err))
	}

	ev := models.Event{
		Type:       models.EventMessageCreated,
		OccurredAt: msg.CreatedAt,
		Data:       msg,
	}

	if c.hub != nil {
		c.hub.Broadcast(conv.Members, ev)
	}

	if c.events != nil {
		if err := c.events.PublishEvent(ctx, ev); err != nil {
			log.Warn("failed to publish event", sl.Err(err))
		}
	}

	return msg, nil
}

// * ListMessages returns messages created strictly after since, oldest first.
// A zero since returns the whole history.
func (c *Chat) ListMessages(ctx context.Context, conversationID, userID string, since time.Time) ([]models.Message, error) {
	const op = "chat.ListMessages"

	if _, err := c.memberConversation(ctx, conversationID, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	msgs, err := c.messages.Messages(ctx, conversationID, since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return msgs, nil
}

func (c *Chat) memberConversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conv, err := c.conversations.Conversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return models.Conversation{}, ErrConversationNotFound
		}

		return models.Conversation{}, err
	}

	if !conv.HasMember(userID) {
		return models.Conversation{}, ErrForbidden
	}

	return conv, nil
}
