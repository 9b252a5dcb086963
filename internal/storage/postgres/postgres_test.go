package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"chat_service/internal/storage/storagetest"
)

// Set CHAT_TEST_POSTGRES_DSN to run against a real database.
func TestStorageContract(t *testing.T) {
	dsn := os.Getenv("CHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(repo.Close)

	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storagetest.Run(t, repo)
}
