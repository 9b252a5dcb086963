package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"chat_service/internal/models"
	"chat_service/internal/storage"
)

// Storage keeps everything in process memory. It backs tests and the
// "memory" storage driver used for local runs without a database.
type Storage struct {
	mu sync.RWMutex

	users         map[string]models.User // by email
	invites       map[string]models.Invite
	codes         map[string]time.Time
	conversations map[string]models.Conversation
	messages      map[string][]models.Message // by conversation id

	now func() time.Time
}

func New() *Storage {
	return &Storage{
		users:         map[string]models.User{},
		invites:       map[string]models.Invite{},
		codes:         map[string]time.Time{},
		conversations: map[string]models.Conversation{},
		messages:      map[string][]models.Message{},
		now:           time.Now,
	}
}

// WithClock replaces the clock used to expire code reservations.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

func (s *Storage) SaveUser(_ context.Context, user models.User) error {
	const op = "storage.memory.SaveUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Email]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}

	s.users[user.Email] = user

	return nil
}

func (s *Storage) User(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, nil
}

func (s *Storage) SaveInvite(_ context.Context, invite models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invites[invite.ID] = invite

	return nil
}

func (s *Storage) InviteByCode(_ context.Context, code string) (models.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found  models.Invite
		exists bool
	)

	for _, inv := range s.invites {
		if inv.Code != code {
			continue
		}
		if !exists || inv.CreatedAt.After(found.CreatedAt) {
			found = inv
			exists = true
		}
	}

	if !exists {
		return models.Invite{}, storage.ErrInviteNotFound
	}

	return found, nil
}

func (s *Storage) AcceptInvite(
	_ context.Context,
	inviteID, acceptorID string,
	conv models.Conversation,
) (string, error) {
	const op = "storage.memory.AcceptInvite"

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[inviteID]
	if !ok {
		return "", fmt.Errorf("%s: %w", op, storage.ErrInviteNotFound)
	}

	if inv.AcceptedBy != "" {
		if inv.AcceptedBy != acceptorID {
			return "", fmt.Errorf("%s: %w", op, storage.ErrInviteAlreadyAccepted)
		}

		return inv.ConversationID, nil
	}

	if inv.ConversationID == "" {
		conv.Members = slices.Clone(conv.Members)
		s.conversations[conv.ID] = conv
		inv.ConversationID = conv.ID
	}

	inv.AcceptedBy = acceptorID
	inv.AcceptedAt = conv.CreatedAt
	s.invites[inviteID] = inv

	return inv.ConversationID, nil
}

func (s *Storage) ReserveCode(_ context.Context, code string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.codes[code]; ok {
		if held.IsZero() || s.now().Before(held) {
			return false, nil
		}
	}

	s.codes[code] = until

	return true, nil
}

func (s *Storage) SaveConversation(_ context.Context, conv models.Conversation) error {
	const op = "storage.memory.SaveConversation"

	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.PairKey != "" {
		for _, c := range s.conversations {
			if c.PairKey == conv.PairKey {
				return fmt.Errorf("%s: %w", op, storage.ErrConversationExists)
			}
		}
	}

	conv.Members = slices.Clone(conv.Members)
	s.conversations[conv.ID] = conv

	return nil
}

func (s *Storage) Conversation(_ context.Context, id string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, storage.ErrConversationNotFound
	}

	return cloneConversation(c), nil
}

func (s *Storage) ConversationsForUser(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]models.Conversation, 0)

	for _, c := range s.conversations {
		if c.HasMember(userID) {
			res = append(res, cloneConversation(c))
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})

	return res, nil
}

func (s *Storage) DirectConversation(_ context.Context, userA, userB string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found  models.Conversation
		exists bool
	)

	for _, c := range s.conversations {
		if len(c.Members) != 2 || !c.HasMember(userA) || !c.HasMember(userB) {
			continue
		}
		if !exists || c.UpdatedAt.After(found.UpdatedAt) {
			found = c
			exists = true
		}
	}

	if !exists {
		return models.Conversation{}, storage.ErrConversationNotFound
	}

	return cloneConversation(found), nil
}

func (s *Storage) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return storage.ErrConversationNotFound
	}

	c.UpdatedAt = at
	s.conversations[id] = c

	return nil
}

func (s *Storage) SaveMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)

	return nil
}

func (s *Storage) Messages(_ context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]models.Message, 0)

	for _, m := range s.messages[conversationID] {
		if m.CreatedAt.After(since) {
			res = append(res, m)
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})

	return res, nil
}

// cloneConversation detaches the members slice from the stored entry.
func cloneConversation(c models.Conversation) models.Conversation {
	c.Members = slices.Clone(c.Members)
	return c
}

func (s *Storage) Ping(context.Context) error { return nil }

func (s *Storage) Close() {}
