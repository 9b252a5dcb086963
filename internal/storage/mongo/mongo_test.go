package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/storage/storagetest"

	"github.com/google/uuid"
)

// Set CHAT_TEST_MONGO_URI to run against a real deployment.
func TestStorageContract(t *testing.T) {
	uri := os.Getenv("CHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHAT_TEST_MONGO_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := New(ctx, config.Mongo{URI: uri, Database: "chat_test_" + uuid.NewString()[:8]})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.db.Drop(context.Background())
		repo.Close()
	})

	storagetest.Run(t, repo)
}
