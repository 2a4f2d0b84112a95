package teamchat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFileStatusStorePutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	store := NewFileStatusStore(path)
	ctx := context.Background()

	if err := store.Put(ctx, 7, true, 1234); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, ok, err := store.Get(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if !entry.Online || entry.LastActive != 1234 {
		t.Errorf("entry = %+v", entry)
	}

	if _, ok, _ := store.Get(ctx, 99); ok {
		t.Error("never-seen user reported as cached")
	}
}

func TestFileStatusStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	ctx := context.Background()

	if err := NewFileStatusStore(path).Put(ctx, 7, true, 1234); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reopened := NewFileStatusStore(path)
	entry, ok, err := reopened.Get(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("Get after reopen = %v, %v", ok, err)
	}
	if !entry.Online {
		t.Errorf("entry = %+v", entry)
	}
}

func TestFileStatusStoreTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	store := NewFileStatusStore(path, WithStatusTTL(time.Minute))
	ctx := context.Background()

	base := time.Now()
	now := base
	store.now = func() time.Time { return now }

	if err := store.Put(ctx, 7, true, 1234); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = base.Add(30 * time.Second)
	if _, ok, _ := store.Get(ctx, 7); !ok {
		t.Error("entry expired early")
	}

	now = base.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, 7); ok {
		t.Error("expired entry still served")
	}

	// Expired entries are purged from disk by the next write.
	if err := store.Put(ctx, 8, false, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store.mu.Lock()
	_, stale := store.entries[7]
	store.mu.Unlock()
	if stale {
		t.Error("expired entry survived the purge")
	}
}

func TestRedisStatusStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStatusStore(client, "test:status", time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, 7, true, 1234); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, ok, err := store.Get(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if !entry.Online || entry.LastActive != 1234 {
		t.Errorf("entry = %+v", entry)
	}

	if _, ok, _ := store.Get(ctx, 99); ok {
		t.Error("never-seen user reported as cached")
	}

	// Key expiry is the TTL mechanism.
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, 7); ok {
		t.Error("expired entry still served")
	}
}
