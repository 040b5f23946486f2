// Package dedupe tracks recently seen message digests so each protocol
// message is handled at most once.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxSize = 50000

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets a key so a message that could not be delivered
	// (queue backpressure) may be retried.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// bounded evicts the oldest keys once maxSize is reached.
type bounded struct {
	cache *lru.Cache[string, struct{}]
}

// unbounded never forgets a key.
type unbounded struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

type config struct {
	maxSize int
}

// NewInMemoryDeduper creates a deduper. With a non-positive max size it is
// unbounded.
func NewInMemoryDeduper(opts ...Option) Deduper {
	cfg := config{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize <= 0 {
		return &unbounded{seen: make(map[string]struct{})}
	}
	cache, err := lru.New[string, struct{}](cfg.maxSize)
	if err != nil {
		// Only a non-positive size is rejected, handled above.
		panic(err)
	}
	return &bounded{cache: cache}
}

func (d *bounded) SeenAndRecord(_ context.Context, key string) bool {
	seen, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return seen
}

func (d *bounded) Unrecord(_ context.Context, key string) { d.cache.Remove(key) }

func (d *bounded) Size() int64 { return int64(d.cache.Len()) }

func (d *unbounded) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}

func (d *unbounded) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

func (d *unbounded) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
