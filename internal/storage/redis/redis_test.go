package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRepo(t *testing.T) (*RedisRepo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	repo, err := New(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(repo.Close)

	return repo, mr
}

func TestReserveCode(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	ok, err := repo.ReserveCode(ctx, "123456", time.Now().Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("expected first reservation, got %v %v", ok, err)
	}

	ok, err = repo.ReserveCode(ctx, "123456", time.Now().Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("expected collision, got %v %v", ok, err)
	}

	if ttl := mr.TTL(codeKeyPrefix + "123456"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(2 * time.Hour)

	ok, err = repo.ReserveCode(ctx, "123456", time.Now().Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("expected reservation after expiry, got %v %v", ok, err)
	}
}

func TestReserveCodeWithoutExpiry(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	ok, err := repo.ReserveCode(ctx, "000001", time.Time{})
	if err != nil || !ok {
		t.Fatalf("expected reservation, got %v %v", ok, err)
	}

	if ttl := mr.TTL(codeKeyPrefix + "000001"); ttl != 0 {
		t.Fatalf("expected key without ttl, got %v", ttl)
	}

	mr.FastForward(365 * 24 * time.Hour)

	ok, err = repo.ReserveCode(ctx, "000001", time.Now().Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("expected permanent reservation to block, got %v %v", ok, err)
	}
}

func TestReserveCodeStaleUntil(t *testing.T) {
	repo, mr := newTestRepo(t)

	ok, err := repo.ReserveCode(context.Background(), "999999", time.Now().Add(-time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected stale reservation to pass, got %v %v", ok, err)
	}

	if mr.Exists(codeKeyPrefix + "999999") {
		t.Fatal("stale reservation should not be stored")
	}
}

func TestReserveCodeUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	repo, err := New(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(repo.Close)

	mr.Close()

	if _, err := repo.ReserveCode(context.Background(), "123456", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected error from closed server")
	}
}
