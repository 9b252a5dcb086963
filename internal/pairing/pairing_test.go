package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chat_service/internal/lib/logger/handlers/slogdiscard"
	"chat_service/internal/models"
	"chat_service/internal/storage/memory"
)

type recordingMail struct {
	mu   sync.Mutex
	sent []models.MailMessage
}

func (r *recordingMail) SendMessage(_ context.Context, msg models.MailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingEvents) PublishEvent(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *memory.Storage
	p      *Pairing
	mail   *recordingMail
	events *recordingEvents
	now    time.Time
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.New(),
		mail:   &recordingMail{},
		events: &recordingEvents{},
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.store.WithClock(func() time.Time { return f.now })

	f.p = New(
		slogdiscard.NewDiscardLogger(),
		f.store,
		f.store,
		f.mail,
		f.events,
		Options{InviteTTL: ttl, LinkBaseURL: "https://chat.example.com/"},
	).WithClock(func() time.Time { return f.now })

	return f
}

func (f *fixture) conversationsOf(t *testing.T, userID string) []models.Conversation {
	t.Helper()

	convs, err := f.store.ConversationsForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	return convs
}

func TestCreateInviteTicket(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)

	ticket, err := f.p.CreateInvite(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	if len(ticket.Code) != CodeDigits {
		t.Fatalf("expected %d digit code, got %q", CodeDigits, ticket.Code)
	}
	for _, r := range ticket.Code {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric code, got %q", ticket.Code)
		}
	}
	if want := "https://chat.example.com/invite/" + ticket.Code; ticket.Link != want {
		t.Fatalf("expected link %q, got %q", want, ticket.Link)
	}
	if !ticket.ExpiresAt.Equal(f.now.Add(DefaultInviteTTL)) {
		t.Fatalf("unexpected expiry %v", ticket.ExpiresAt)
	}

	inv, err := f.store.InviteByCode(context.Background(), ticket.Code)
	if err != nil {
		t.Fatalf("lookup invite: %v", err)
	}
	if inv.CreatedBy != "alice" || inv.IsAccepted() || inv.ConversationID != "" {
		t.Fatalf("expected fresh invite, got %+v", inv)
	}
	if f.events.count(models.EventInviteCreated) != 1 {
		t.Fatal("expected invite.created event")
	}
	if len(f.mail.sent) != 0 {
		t.Fatal("expected no mail without recipient")
	}
}

func TestCreateInviteQueuesEmail(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)

	ticket, err := f.p.CreateInvite(context.Background(), "alice", "bob@example.com")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	if len(f.mail.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(f.mail.sent))
	}
	got := f.mail.sent[0]
	if got.Email != "bob@example.com" || got.Link != ticket.Link || got.Purpose != "invite" {
		t.Fatalf("unexpected mail %+v", got)
	}
}

func TestCreateInviteZeroTTLNeverExpires(t *testing.T) {
	f := newFixture(t, 0)

	ticket, err := f.p.CreateInvite(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if !ticket.ExpiresAt.IsZero() {
		t.Fatalf("expected no expiry, got %v", ticket.ExpiresAt)
	}

	f.now = f.now.AddDate(5, 0, 0)

	if _, err := f.p.AcceptInvite(context.Background(), ticket.Code, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestCreateInviteRetriesOnCollision(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)

	codes := []string{"111111", "111111", "111111", "222222"}
	var i int
	f.p.WithCodeGenerator(func() string {
		c := codes[i]
		i++
		return c
	})

	first, err := f.p.CreateInvite(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("first invite: %v", err)
	}
	second, err := f.p.CreateInvite(context.Background(), "carol", "")
	if err != nil {
		t.Fatalf("second invite: %v", err)
	}

	if first.Code != "111111" || second.Code != "222222" {
		t.Fatalf("expected retry to skip reserved code, got %q and %q", first.Code, second.Code)
	}
}

func TestCreateInviteExhaustsCodeSpace(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)
	f.p.WithCodeGenerator(func() string { return "999999" })

	if _, err := f.p.CreateInvite(context.Background(), "alice", ""); err != nil {
		t.Fatalf("first invite: %v", err)
	}

	_, err := f.p.CreateInvite(context.Background(), "alice", "")
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
	}
}

func TestCodeReusableAfterExpiry(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.p.WithCodeGenerator(func() string { return "123456" })

	if _, err := f.p.CreateInvite(context.Background(), "alice", ""); err != nil {
		t.Fatalf("first invite: %v", err)
	}

	f.now = f.now.Add(2 * time.Hour)

	if _, err := f.p.CreateInvite(context.Background(), "carol", ""); err != nil {
		t.Fatalf("expected expired code to be reusable, got %v", err)
	}

	// the latest invite wins the lookup
	convID, err := f.p.AcceptInvite(context.Background(), "123456", "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	conv, err := f.store.Conversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if conv.Members[0] != "carol" {
		t.Fatalf("expected latest invite by carol, got members %v", conv.Members)
	}
}

func TestSelfAcceptRejected(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)

	ticket, err := f.p.CreateInvite(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	_, err = f.p.AcceptInvite(context.Background(), ticket.Code, "alice")
	if !errors.Is(err, ErrSelfAccept) {
		t.Fatalf("expected ErrSelfAccept, got %v", err)
	}
	if len(f.conversationsOf(t, "alice")) != 0 {
		t.Fatal("expected no conversation after self accept")
	}
}

func TestAcceptCreatesConversationOnce(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)
	ctx := context.Background()

	ticket, err := f.p.CreateInvite(ctx, "alice", "")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	convID, err := f.p.AcceptInvite(ctx, ticket.Code, "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	conv, err := f.store.Conversation(ctx, convID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(conv.Members) != 2 || conv.Members[0] != "alice" || conv.Members[1] != "bob" {
		t.Fatalf("expected members [alice bob], got %v", conv.Members)
	}
	if !conv.AIEnabled {
		t.Fatal("expected ai enabled by default")
	}

	replay, err := f.p.AcceptInvite(ctx, " "+ticket.Code+" ", "bob")
	if err != nil {
		t.Fatalf("replay accept: %v", err)
	}
	if replay != convID {
		t.Fatalf("expected idempotent replay to return %q, got %q", convID, replay)
	}

	_, err = f.p.AcceptInvite(ctx, ticket.Code, "carol")
	if !errors.Is(err, ErrInviteAlreadyAccepted) {
		t.Fatalf("expected ErrInviteAlreadyAccepted for third user, got %v", err)
	}

	if n := len(f.conversationsOf(t, "alice")); n != 1 {
		t.Fatalf("expected exactly one conversation, got %d", n)
	}
	if n := f.events.count(models.EventInviteAccepted); n != 1 {
		t.Fatalf("expected one accepted event, got %d", n)
	}

	inv, err := f.store.InviteByCode(ctx, ticket.Code)
	if err != nil {
		t.Fatalf("lookup invite: %v", err)
	}
	if inv.AcceptedBy != "bob" || inv.ConversationID != convID {
		t.Fatalf("unexpected invite state %+v", inv)
	}
}

func TestAcceptExpiredInvite(t *testing.T) {
	f := newFixture(t, time.Hour)

	ticket, err := f.p.CreateInvite(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	f.now = f.now.Add(time.Hour + time.Second)

	_, err = f.p.AcceptInvite(context.Background(), ticket.Code, "bob")
	if !errors.Is(err, ErrInviteExpired) {
		t.Fatalf("expected ErrInviteExpired, got %v", err)
	}

	inv, err := f.store.InviteByCode(context.Background(), ticket.Code)
	if err != nil {
		t.Fatalf("expected expired invite to remain stored: %v", err)
	}
	if inv.IsAccepted() {
		t.Fatal("expired invite must not transition")
	}
}

func TestAcceptUnknownOrEmptyCode(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)

	if _, err := f.p.AcceptInvite(context.Background(), "000000", "bob"); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}
	if _, err := f.p.AcceptInvite(context.Background(), "  ", "bob"); !errors.Is(err, ErrEmptyCode) {
		t.Fatalf("expected ErrEmptyCode, got %v", err)
	}
}

func TestConcurrentAcceptCreatesSingleConversation(t *testing.T) {
	for round := range 20 {
		f := newFixture(t, DefaultInviteTTL)
		ctx := context.Background()

		ticket, err := f.p.CreateInvite(ctx, "alice", "")
		if err != nil {
			t.Fatalf("create invite: %v", err)
		}

		const acceptors = 8

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			won     []string
			ids     = map[string]struct{}{}
			unknown []error
		)

		for i := range acceptors {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()

				convID, err := f.p.AcceptInvite(ctx, ticket.Code, user)

				mu.Lock()
				defer mu.Unlock()

				switch {
				case err == nil:
					won = append(won, user)
					ids[convID] = struct{}{}
				case errors.Is(err, ErrInviteAlreadyAccepted):
				default:
					unknown = append(unknown, err)
				}
			}(fmt.Sprintf("user-%d", i))
		}
		wg.Wait()

		if len(unknown) != 0 {
			t.Fatalf("round %d: unexpected errors %v", round, unknown)
		}
		if len(won) != 1 || len(ids) != 1 {
			t.Fatalf("round %d: expected a single winner, got %v", round, won)
		}
		if n := len(f.conversationsOf(t, "alice")); n != 1 {
			t.Fatalf("round %d: expected one conversation, got %d", round, n)
		}
	}
}

func TestConcurrentReplayBySameAcceptor(t *testing.T) {
	f := newFixture(t, DefaultInviteTTL)
	ctx := context.Background()

	ticket, err := f.p.CreateInvite(ctx, "alice", "")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			convID, err := f.p.AcceptInvite(ctx, ticket.Code, "bob")
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}

			mu.Lock()
			ids[convID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("expected one conversation id across replays, got %d", len(ids))
	}
	if n := len(f.conversationsOf(t, "bob")); n != 1 {
		t.Fatalf("expected one conversation, got %d", n)
	}
}
