package models

import (
	"sort"
	"strings"
	"time"
)

const (
	MessageTypeText = "text"
	MessageTypeGift = "gift"
)

type User struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	PassHash  []byte    `bson:"password_hash"`
	CreatedAt time.Time `bson:"created_at"`
}

// Identity is what a verified token asserts about its bearer.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

type Invite struct {
	ID             string    `bson:"_id"`
	Code           string    `bson:"code"`
	CreatedBy      string    `bson:"created_by"`
	AcceptedBy     string    `bson:"accepted_by"`
	ConversationID string    `bson:"conversation_id"`
	ExpiresAt      time.Time `bson:"expires_at"`
	CreatedAt      time.Time `bson:"created_at"`
	AcceptedAt     time.Time `bson:"accepted_at"`
}

// * IsExpired reports whether the invite can no longer be accepted at now.
// A zero ExpiresAt never expires.
func (i *Invite) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// * IsAccepted reports whether the invite has reached its terminal state.
func (i *Invite) IsAccepted() bool {
	return i.AcceptedBy != ""
}

type Conversation struct {
	ID        string    `json:"_id" bson:"_id"`
	Members   []string  `json:"members" bson:"members"`
	AIEnabled bool      `json:"aiEnabled" bson:"ai_enabled"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
	// PairKey is set on direct conversations opened through EnsureConversation
	// and is unique per store. Invite conversations leave it empty.
	PairKey string `json:"-" bson:"pair_key,omitempty"`
}

// * DirectPairKey returns the order independent key of a two user conversation.
func DirectPairKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)

	return strings.Join(pair, ":")
}

// * HasMember reports whether userID belongs to the conversation.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}

	return false
}

type Message struct {
	ID             string    `json:"_id" bson:"_id"`
	ConversationID string    `json:"conversationId" bson:"conversation_id"`
	SenderID       string    `json:"senderId" bson:"sender_id"`
	Text           string    `json:"text" bson:"text"`
	Type           string    `json:"type" bson:"type"`
	HiddenFromAI   bool      `json:"hideFromAI" bson:"hidden_from_ai"`
	CreatedAt      time.Time `json:"createdAt" bson:"created_at"`
}

// MailMessage is the payload placed on the mail queue for the notifier.
type MailMessage struct {
	Email   string `json:"to"`
	Link    string `json:"link"`
	Purpose string `json:"purpose"`
}

const (
	EventInviteCreated  = "invite.created"
	EventInviteAccepted = "invite.accepted"
	EventMessageCreated = "message.created"
)

// Event is the envelope published to the events exchange and pushed over websockets.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type InviteAccepted struct {
	InviteID       string `json:"invite_id"`
	ConversationID string `json:"conversation_id"`
	CreatedBy      string `json:"created_by"`
	AcceptedBy     string `json:"accepted_by"`
}

type InviteCreated struct {
	InviteID  string `json:"invite_id"`
	CreatedBy string `json:"created_by"`
}
