// Package pairing turns invite codes into two-member conversations.
//
// An invite is Created when issued and becomes Accepted exactly once. Expiry is
// not a stored state; it is checked when someone tries to accept.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/models"
	"chat_service/internal/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultInviteTTL = 24 * time.Hour
	CodeDigits       = 6
	maxCodeAttempts  = 10
)

var (
	ErrInviteNotFound        = errors.New("invalid code")
	ErrInviteExpired         = errors.New("invite expired")
	ErrSelfAccept            = errors.New("cannot accept your own invite")
	ErrInviteAlreadyAccepted = errors.New("invite already accepted")
	ErrCodeSpaceExhausted    = errors.New("could not allocate a free invite code")
	ErrEmptyCode             = errors.New("code is required")
)

var tracer = otel.Tracer("chat_service/internal/pairing")

type InviteSaver interface {
	SaveInvite(ctx context.Context, invite models.Invite) error
}

type InviteProvider interface {
	InviteByCode(ctx context.Context, code string) (models.Invite, error)
}

type InviteAcceptor interface {
	AcceptInvite(ctx context.Context, inviteID, acceptorID string, conv models.Conversation) (string, error)
}

type CodeReserver interface {
	ReserveCode(ctx context.Context, code string, until time.Time) (bool, error)
}

type MailPublisher interface {
	SendMessage(ctx context.Context, msg models.MailMessage) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

type Store interface {
	InviteSaver
	InviteProvider
	InviteAcceptor
}

type Options struct {
	// InviteTTL bounds how long a code can be accepted. Zero means never expires.
	InviteTTL   time.Duration
	LinkBaseURL string
}

type Pairing struct {
	log      *slog.Logger
	store    Store
	reserver CodeReserver
	mail     MailPublisher
	events   EventPublisher

	ttl      time.Duration
	linkBase string

	now     func() time.Time
	newCode func() string
}

// Ticket is what the creator shares with the person they invite.
type Ticket struct {
	Code      string
	Link      string
	ExpiresAt time.Time
}

func New(
	log *slog.Logger,
	store Store,
	reserver CodeReserver,
	mail MailPublisher,
	events EventPublisher,
	opts Options,
) *Pairing {
	return &Pairing{
		log:      log,
		store:    store,
		reserver: reserver,
		mail:     mail,
		events:   events,
		ttl:      opts.InviteTTL,
		linkBase: strings.TrimRight(opts.LinkBaseURL, "/"),
		now:      time.Now,
		newCode:  RandomCode,
	}
}

// WithClock replaces the time source, for tests.
func (p *Pairing) WithClock(now func() time.Time) *Pairing {
	p.now = now
	return p
}

// WithCodeGenerator replaces the invite code source, for tests.
func (p *Pairing) WithCodeGenerator(gen func() string) *Pairing {
	p.newCode = gen
	return p
}

// RandomCode returns a zero-padded six digit code. Codes are short lived and
// reserved before use, so a non-cryptographic source is enough.
func RandomCode() string {
	return fmt.Sprintf("%0*d", CodeDigits, rand.IntN(1_000_000))
}

// * CreateInvite issues a new invite for creatorID. When recipientEmail is set the
// link is also queued for e-mail delivery.
func (p *Pairing) CreateInvite(ctx context.Context, creatorID, recipientEmail string) (Ticket, error) {
	const op = "pairing.CreateInvite"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	log := p.log.With(
		slog.String("op", op),
		slog.String("creator", creatorID),
	)

	now := p.now().UTC().Truncate(time.Millisecond)

	var expiresAt time.Time
	if p.ttl > 0 {
		expiresAt = now.Add(p.ttl)
	}

	code, err := p.reserveCode(ctx, expiresAt)
	if err != nil {
		log.Error("failed to reserve invite code", sl.Err(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve code")

		return Ticket{}, fmt.Errorf("%s: %w", op, err)
	}

	invite := models.Invite{
		ID:        uuid.NewString(),
		Code:      code,
		CreatedBy: creatorID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	if err := p.store.SaveInvite(ctx, invite); err != nil {
		log.Error("failed to save invite", sl.Err(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "save invite")

		return Ticket{}, fmt.Errorf("%s: %w", op, err)
	}

	span.SetAttributes(attribute.String("invite.id", invite.ID))

	ticket := Ticket{
		Code:      code,
		Link:      fmt.Sprintf("%s/invite/%s", p.linkBase, code),
		ExpiresAt: expiresAt,
	}

	p.publish(ctx, log, models.EventInviteCreated, models.InviteCreated{
		InviteID:  invite.ID,
		CreatedBy: creatorID,
	})

	if recipientEmail != "" && p.mail != nil {
		msg := models.MailMessage{
			Email:   recipientEmail,
			Link:    ticket.Link,
			Purpose: "invite",
		}

		if err := p.mail.SendMessage(ctx, msg); err != nil {
			log.Warn("failed to queue invite email", sl.Err(err))
		}
	}

	log.Info("invite created", slog.String("invite_id", invite.ID))

	return ticket, nil
}

func (p *Pairing) reserveCode(ctx context.Context, until time.Time) (string, error) {
	for range maxCodeAttempts {
		code := p.newCode()

		ok, err := p.reserver.ReserveCode(ctx, code, until)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}

		p.log.Debug("invite code collision, retrying", slog.String("code", code))
	}

	return "", ErrCodeSpaceExhausted
}

// * AcceptInvite pairs acceptorID with the invite creator and returns the
// conversation they share. Replays by the same acceptor return the same id.
func (p *Pairing) AcceptInvite(ctx context.Context, code, acceptorID string) (string, error) {
	const op = "pairing.AcceptInvite"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	log := p.log.With(
		slog.String("op", op),
		slog.String("acceptor", acceptorID),
	)

	convID, err := p.acceptInvite(ctx, log, strings.TrimSpace(code), acceptorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return "", fmt.Errorf("%s: %w", op, err)
	}

	span.SetAttributes(attribute.String("conversation.id", convID))

	return convID, nil
}

func (p *Pairing) acceptInvite(ctx context.Context, log *slog.Logger, code, acceptorID string) (string, error) {
	if code == "" {
		return "", ErrEmptyCode
	}

	invite, err := p.store.InviteByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrInviteNotFound) {
			log.Info("invite not found")
			return "", ErrInviteNotFound
		}

		log.Error("failed to load invite", sl.Err(err))
		return "", err
	}

	now := p.now().UTC().Truncate(time.Millisecond)

	if invite.IsExpired(now) {
		log.Info("invite expired", slog.String("invite_id", invite.ID))
		return "", ErrInviteExpired
	}

	if invite.CreatedBy == acceptorID {
		return "", ErrSelfAccept
	}

	if invite.IsAccepted() {
		if invite.AcceptedBy != acceptorID {
			return "", ErrInviteAlreadyAccepted
		}

		return invite.ConversationID, nil
	}

	candidate := models.Conversation{
		ID:        uuid.NewString(),
		Members:   []string{invite.CreatedBy, acceptorID},
		AIEnabled: true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	convID, err := p.store.AcceptInvite(ctx, invite.ID, acceptorID, candidate)
	if err != nil {
		if errors.Is(err, storage.ErrInviteAlreadyAccepted) {
			log.Info("lost acceptance race", slog.String("invite_id", invite.ID))
			return "", ErrInviteAlreadyAccepted
		}

		log.Error("failed to accept invite", sl.Err(err))
		return "", err
	}

	p.publish(ctx, log, models.EventInviteAccepted, models.InviteAccepted{
		InviteID:       invite.ID,
		ConversationID: convID,
		CreatedBy:      invite.CreatedBy,
		AcceptedBy:     acceptorID,
	})

	log.Info("invite accepted",
		slog.String("invite_id", invite.ID),
		slog.String("conversation_id", convID),
	)

	return convID, nil
}

func (p *Pairing) publish(ctx context.Context, log *slog.Logger, typ string, data any) {
	if p.events == nil {
		return
	}

	ev := models.Event{
		Type:       typ,
		OccurredAt: p.now().UTC(),
		Data:       data,
	}

	if err := p.events.PublishEvent(ctx, ev); err != nil {
		log.Warn("failed to publish event", slog.String("type", typ), sl.Err(err))
	}
}
