package memory

import (
	"context"
	"testing"

	"chat_service/internal/models"
	"chat_service/internal/storage/storagetest"
)

func TestStorageContract(t *testing.T) {
	storagetest.Run(t, New())
}

func TestReturnedMembersAreDetached(t *testing.T) {
	ctx := context.Background()
	s := New()

	conv := models.Conversation{ID: "c1", Members: []string{"alice", "bob"}}
	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("save conversation: %v", err)
	}
	conv.Members[0] = "mallory"

	got, err := s.Conversation(ctx, "c1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	got.Members[0] = "mallory"

	direct, err := s.DirectConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	direct.Members[1] = "mallory"

	list, err := s.ConversationsForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	list[0].Members[0] = "mallory"

	stored, err := s.Conversation(ctx, "c1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if stored.Members[0] != "alice" || stored.Members[1] != "bob" {
		t.Fatalf("stored members were modified through a returned value: %v", stored.Members)
	}
}
