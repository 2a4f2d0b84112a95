package teamchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStatusTTL bounds how long a presence observation stays meaningful.
// Past it a user's last known status is treated as unknown rather than shown
// stale.
const DefaultStatusTTL = 30 * time.Minute

// StatusEntry is one cached presence observation.
type StatusEntry struct {
	Online     bool  `json:"online"`
	LastActive int64 `json:"lastActive"`
	ObservedAt int64 `json:"observedAt"`
}

// StatusStore caches per-user presence with a TTL. Implementations are
// goroutine-safe. A miss, an expired entry, and a never-seen user are
// indistinguishable to callers.
type StatusStore interface {
	Put(ctx context.Context, userID int64, online bool, lastActive int64) error
	Get(ctx context.Context, userID int64) (StatusEntry, bool, error)
}

// ============================================================================
// File-backed store
// ============================================================================

// FileStatusStore persists presence to a JSON file so status survives
// process restarts. Expired entries are purged lazily on access.
type FileStatusStore struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	loaded  bool
	entries map[int64]StatusEntry
}

// FileStatusStoreOption configures a FileStatusStore.
type FileStatusStoreOption func(*FileStatusStore)

// WithStatusTTL overrides the entry lifetime.
func WithStatusTTL(ttl time.Duration) FileStatusStoreOption {
	return func(s *FileStatusStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewFileStatusStore creates a store backed by the given file. The parent
// directory is created on first write.
func NewFileStatusStore(path string, opts ...FileStatusStoreOption) *FileStatusStore {
	s := &FileStatusStore{
		path:    path,
		ttl:     DefaultStatusTTL,
		now:     time.Now,
		entries: make(map[int64]StatusEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put records a presence observation and persists the file.
func (s *FileStatusStore) Put(_ context.Context, userID int64, online bool, lastActive int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	s.entries[userID] = StatusEntry{
		Online:     online,
		LastActive: lastActive,
		ObservedAt: s.now().UnixMilli(),
	}
	s.purge()
	return s.persist()
}

// Get returns the cached entry for a user, or ok=false when absent or
// expired.
func (s *FileStatusStore) Get(_ context.Context, userID int64) (StatusEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return StatusEntry{}, false, err
	}
	entry, ok := s.entries[userID]
	if !ok || s.expired(entry) {
		return StatusEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *FileStatusStore) expired(e StatusEntry) bool {
	return s.now().UnixMilli()-e.ObservedAt > s.ttl.Milliseconds()
}

func (s *FileStatusStore) purge() {
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
		}
	}
}

func (s *FileStatusStore) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read status cache: %w", err)
	}
	entries := make(map[int64]StatusEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt cache file is not worth failing over; start fresh.
		entries = make(map[int64]StatusEntry)
	}
	s.entries = entries
	s.loaded = true
	s.purge()
	return nil
}

func (s *FileStatusStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create status cache dir: %w", err)
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write status cache: %w", err)
	}
	return nil
}

// ============================================================================
// Redis-backed store
// ============================================================================

// RedisStatusStore keeps presence in Redis with the TTL enforced by key
// expiry, so multiple processes watching the same account share one view.
type RedisStatusStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatusStore creates a store over an existing Redis client. A zero
// ttl uses DefaultStatusTTL.
func NewRedisStatusStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStatusStore {
	if prefix == "" {
		prefix = "teamchat:status"
	}
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisStatusStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStatusStore) key(userID int64) string {
	return s.prefix + ":" + strconv.FormatInt(userID, 10)
}

// Put records a presence observation with the store TTL.
func (s *RedisStatusStore) Put(ctx context.Context, userID int64, online bool, lastActive int64) error {
	entry := StatusEntry{
		Online:     online,
		LastActive: lastActive,
		ObservedAt: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("status cache set: %w", err)
	}
	return nil
}

// Get returns the cached entry for a user. Expiry is Redis's job; any key
// still present is valid.
func (s *RedisStatusStore) Get(ctx context.Context, userID int64) (StatusEntry, bool, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, fmt.Errorf("status cache get: %w", err)
	}
	var entry StatusEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return StatusEntry{}, false, fmt.Errorf("status cache decode: %w", err)
	}
	return entry, true, nil
}
