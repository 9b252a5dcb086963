// Package storagetest holds behaviour checks shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat_service/internal/models"
	"chat_service/internal/storage"

	"github.com/google/uuid"
)

// Run exercises a backend against the contract documented on storage.Storage.
// Backends that share state across runs are fine: every record uses fresh ids.
func Run(t *testing.T, s storage.Storage) {
	t.Helper()

	t.Run("users", func(t *testing.T) { testUsers(t, s) })
	t.Run("invites", func(t *testing.T) { testInvites(t, s) })
	t.Run("concurrent accept", func(t *testing.T) { testConcurrentAccept(t, s) })
	t.Run("reserve code", func(t *testing.T) { testReserveCode(t, s) })
	t.Run("conversations and messages", func(t *testing.T) { testConversations(t, s) })
	t.Run("direct pair key", func(t *testing.T) { testPairKey(t, s) })
	t.Run("message cursor round trip", func(t *testing.T) { testMessageCursor(t, s) })
}

func newUser(t *testing.T, s storage.Storage) models.User {
	t.Helper()

	id := uuid.NewString()
	u := models.User{
		ID:        id,
		Email:     id + "@example.com",
		PassHash:  []byte("hash"),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := s.SaveUser(context.Background(), u); err != nil {
		t.Fatalf("save user: %v", err)
	}

	return u
}

func newConversation(members ...string) models.Conversation {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return models.Conversation{
		ID:        uuid.NewString(),
		Members:   members,
		AIEnabled: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testUsers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	u := newUser(t, s)

	got, err := s.User(ctx, u.Email)
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if got.ID != u.ID || string(got.PassHash) != "hash" {
		t.Fatalf("unexpected user %+v", got)
	}

	dup := u
	dup.ID = uuid.NewString()
	if err := s.SaveUser(ctx, dup); !errors.Is(err, storage.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	if _, err := s.User(ctx, "missing-"+u.Email); !errors.Is(err, storage.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func testInvites(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice, bob, carol := newUser(t, s), newUser(t, s), newUser(t, s)

	code := uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := models.Invite{ID: uuid.NewString(), Code: code, CreatedBy: carol.ID, CreatedAt: now.Add(-time.Hour)}
	latest := models.Invite{ID: uuid.NewString(), Code: code, CreatedBy: alice.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	for _, inv := range []models.Invite{older, latest} {
		if err := s.SaveInvite(ctx, inv); err != nil {
			t.Fatalf("save invite: %v", err)
		}
	}

	got, err := s.InviteByCode(ctx, code)
	if err != nil {
		t.Fatalf("invite by code: %v", err)
	}
	if got.ID != latest.ID || !got.ExpiresAt.Equal(latest.ExpiresAt) || got.IsAccepted() {
		t.Fatalf("expected latest unaccepted invite, got %+v", got)
	}

	if _, err := s.InviteByCode(ctx, "nope-"+code); !errors.Is(err, storage.ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}

	conv := newConversation(alice.ID, bob.ID)

	convID, err := s.AcceptInvite(ctx, latest.ID, bob.ID, conv)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if convID != conv.ID {
		t.Fatalf("expected candidate conversation %q, got %q", conv.ID, convID)
	}

	stored, err := s.Conversation(ctx, convID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(stored.Members) != 2 || stored.Members[0] != alice.ID || stored.Members[1] != bob.ID {
		t.Fatalf("unexpected members %v", stored.Members)
	}

	replay, err := s.AcceptInvite(ctx, latest.ID, bob.ID, newConversation(alice.ID, bob.ID))
	if err != nil {
		t.Fatalf("replay accept: %v", err)
	}
	if replay != convID {
		t.Fatalf("expected replay to return %q, got %q", convID, replay)
	}

	if _, err := s.AcceptInvite(ctx, latest.ID, carol.ID, newConversation(alice.ID, carol.ID)); !errors.Is(err, storage.ErrInviteAlreadyAccepted) {
		t.Fatalf("expected ErrInviteAlreadyAccepted, got %v", err)
	}

	got, err = s.InviteByCode(ctx, code)
	if err != nil {
		t.Fatalf("invite by code: %v", err)
	}
	if got.AcceptedBy != bob.ID || got.ConversationID != convID {
		t.Fatalf("unexpected accepted invite %+v", got)
	}

	convs, err := s.ConversationsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected a single conversation, got %d", len(convs))
	}
}

func testConcurrentAccept(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	creator := newUser(t, s)

	inv := models.Invite{
		ID:        uuid.NewString(),
		Code:      uuid.NewString()[:8],
		CreatedBy: creator.ID,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.SaveInvite(ctx, inv); err != nil {
		t.Fatalf("save invite: %v", err)
	}

	acceptors := make([]models.User, 6)
	for i := range acceptors {
		acceptors[i] = newUser(t, s)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		ids  = map[string]struct{}{}
	)

	for _, a := range acceptors {
		wg.Add(1)
		go func(a models.User) {
			defer wg.Done()

			convID, err := s.AcceptInvite(ctx, inv.ID, a.ID, newConversation(creator.ID, a.ID))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				wins++
				ids[convID] = struct{}{}
			case errors.Is(err, storage.ErrInviteAlreadyAccepted):
			default:
				t.Errorf("accept: %v", err)
			}
		}(a)
	}
	wg.Wait()

	if wins != 1 || len(ids) != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	convs, err := s.ConversationsForUser(ctx, creator.ID)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(convs))
	}
}

func testReserveCode(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	code := uuid.NewString()[:6]

	ok, err := s.ReserveCode(ctx, code, time.Now().Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("expected first reservation to succeed, got %v %v", ok, err)
	}

	ok, err = s.ReserveCode(ctx, code, time.Now().Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("expected live reservation to block, got %v %v", ok, err)
	}

	stale := uuid.NewString()[:6]
	if ok, err := s.ReserveCode(ctx, stale, time.Now().Add(-time.Minute)); err != nil || !ok {
		t.Fatalf("reserve stale: %v %v", ok, err)
	}
	if ok, err := s.ReserveCode(ctx, stale, time.Now().Add(time.Hour)); err != nil || !ok {
		t.Fatalf("expected expired reservation to be reusable, got %v %v", ok, err)
	}

	forever := uuid.NewString()[:6]
	if ok, err := s.ReserveCode(ctx, forever, time.Time{}); err != nil || !ok {
		t.Fatalf("reserve forever: %v %v", ok, err)
	}
	if ok, err := s.ReserveCode(ctx, forever, time.Now().Add(time.Hour)); err != nil || ok {
		t.Fatalf("expected non-expiring reservation to block, got %v %v", ok, err)
	}
}

func testConversations(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice, bob, carol := newUser(t, s), newUser(t, s), newUser(t, s)

	ab := newConversation(alice.ID, bob.ID)
	ac := newConversation(alice.ID, carol.ID)
	ac.UpdatedAt = ab.UpdatedAt.Add(time.Second)

	for _, c := range []models.Conversation{ab, ac} {
		if err := s.SaveConversation(ctx, c); err != nil {
			t.Fatalf("save conversation: %v", err)
		}
	}

	convs, err := s.ConversationsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != ac.ID {
		t.Fatalf("expected most recent first, got %+v", convs)
	}

	direct, err := s.DirectConversation(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if direct.ID != ab.ID {
		t.Fatalf("expected %q, got %q", ab.ID, direct.ID)
	}
	if _, err := s.DirectConversation(ctx, bob.ID, carol.ID); !errors.Is(err, storage.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	touched := ac.UpdatedAt.Add(time.Minute)
	if err := s.TouchConversation(ctx, ab.ID, touched); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := s.TouchConversation(ctx, uuid.NewString(), touched); !errors.Is(err, storage.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound on touch, got %v", err)
	}

	convs, err = s.ConversationsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if convs[0].ID != ab.ID || !convs[0].UpdatedAt.Equal(touched) {
		t.Fatalf("expected touched conversation first, got %+v", convs)
	}

	base := ab.CreatedAt
	var msgs []models.Message
	for i, text := range []string{"a", "b", "c"} {
		m := models.Message{
			ID:             uuid.NewString(),
			ConversationID: ab.ID,
			SenderID:       alice.ID,
			Text:           text,
			Type:           models.MessageTypeText,
			CreatedAt:      base.Add(time.Duration(i+1) * time.Second),
		}
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save message: %v", err)
		}
		msgs = append(msgs, m)
	}

	all, err := s.Messages(ctx, ab.ID, time.Time{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(all) != 3 || all[0].Text != "a" || all[2].Text != "c" {
		t.Fatalf("expected ascending history, got %+v", all)
	}

	after, err := s.Messages(ctx, ab.ID, msgs[0].CreatedAt)
	if err != nil {
		t.Fatalf("messages since: %v", err)
	}
	if len(after) != 2 || after[0].Text != "b" {
		t.Fatalf("expected strictly later messages, got %+v", after)
	}
}

func testPairKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice, bob := newUser(t, s), newUser(t, s)

	first := newConversation(alice.ID, bob.ID)
	first.PairKey = models.DirectPairKey(alice.ID, bob.ID)
	if err := s.SaveConversation(ctx, first); err != nil {
		t.Fatalf("save conversation: %v", err)
	}

	dup := newConversation(bob.ID, alice.ID)
	dup.PairKey = models.DirectPairKey(bob.ID, alice.ID)
	if err := s.SaveConversation(ctx, dup); !errors.Is(err, storage.ErrConversationExists) {
		t.Fatalf("expected ErrConversationExists, got %v", err)
	}

	// conversations without a key never collide
	for i := 0; i < 2; i++ {
		if err := s.SaveConversation(ctx, newConversation(alice.ID, bob.ID)); err != nil {
			t.Fatalf("save unkeyed conversation: %v", err)
		}
	}

	got, err := s.Conversation(ctx, first.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if got.PairKey != first.PairKey {
		t.Fatalf("expected pair key %q, got %q", first.PairKey, got.PairKey)
	}
}

func testMessageCursor(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice, bob := newUser(t, s), newUser(t, s)

	conv := newConversation(alice.ID, bob.ID)
	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("save conversation: %v", err)
	}

	// millisecond stamps one apart, as handed out on message creation
	base := conv.CreatedAt.Add(time.Second)
	sent := []models.Message{
		{ID: uuid.NewString(), ConversationID: conv.ID, SenderID: alice.ID, Text: "mine", Type: models.MessageTypeText, CreatedAt: base},
		{ID: uuid.NewString(), ConversationID: conv.ID, SenderID: bob.ID, Text: "theirs", Type: models.MessageTypeText, CreatedAt: base.Add(time.Millisecond)},
	}
	for _, m := range sent {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	all, err := s.Messages(ctx, conv.ID, time.Time{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(all) != 2 || !all[0].CreatedAt.Equal(sent[0].CreatedAt) {
		t.Fatalf("expected stored stamp %v to round trip, got %+v", sent[0].CreatedAt, all)
	}

	after, err := s.Messages(ctx, conv.ID, all[0].CreatedAt)
	if err != nil {
		t.Fatalf("messages since: %v", err)
	}
	if len(after) != 1 || after[0].ID != sent[1].ID {
		t.Fatalf("expected the later message after the cursor, got %+v", after)
	}
}
