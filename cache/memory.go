package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Expired entries are dropped lazily on read and by a janitor.
type MemoryStore struct {
	entries *xsync.MapOf[string, memoryEntry]
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a store and, when janitorInterval > 0, a goroutine
// that purges expired entries until Close.
func NewMemoryStore(janitorInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: xsync.NewMapOf[string, memoryEntry](),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	}
	return s
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *MemoryStore) purge() {
	now := s.now()
	s.entries.Range(func(key string, e memoryEntry) bool {
		if e.expired(now) {
			s.entries.Compute(key, func(cur memoryEntry, loaded bool) (memoryEntry, bool) {
				return cur, !loaded || cur.expired(now)
			})
		}
		return true
	})
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.entries.Load(key)
	if !ok {
		return nil, ErrMiss
	}
	if e.expired(s.now()) {
		s.entries.Delete(key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries.Store(key, e)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.entries.Delete(key)
	}
	return nil
}

// DeletePattern uses path.Match glob syntax. It agrees with Redis MATCH for
// keys without '/', which * does not cross here.
func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}
	removed := 0
	s.entries.Range(func(key string, _ memoryEntry) bool {
		if ok, _ := path.Match(pattern, key); ok {
			s.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	return err == nil, nil
}

// Len reports the number of stored entries, including expired ones not yet purged.
func (s *MemoryStore) Len() int {
	return s.entries.Size()
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
