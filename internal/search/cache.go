package search

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// Cache stores per-transcript sentence embeddings so repeated highlight
// requests against the same video do not re-embed every sentence. Keys
// include the embedding model id, so vectors from different models never
// collide.
type Cache interface {
	// Get returns the cached sentence vectors for the key, or false when
	// the key is absent.
	Get(ctx context.Context, key string) ([][]float32, bool)

	// Put stores the sentence vectors under the key, evicting older
	// entries if the backend is bounded.
	Put(ctx context.Context, key string, vecs [][]float32)
}

// cacheKey builds the canonical cache key for a transcript's sentence
// embeddings.
func cacheKey(creator, videoID, modelID string) string {
	return fmt.Sprintf("reelsonar:sentvecs:%s:%s:%s", modelID, creator, videoID)
}

// memoryCache is a bounded in-process LRU cache. The zero value is not
// usable; construct with NewMemoryCache.
type memoryCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type memoryEntry struct {
	key  string
	vecs [][]float32
}

// NewMemoryCache returns an in-process LRU [Cache] holding at most
// maxEntries transcripts. maxEntries <= 0 defaults to 256.
func NewMemoryCache(maxEntries int) Cache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &memoryCache{
		max:     maxEntries,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *memoryCache) Get(_ context.Context, key string) ([][]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryEntry).vecs, true
}

func (c *memoryCache) Put(_ context.Context, key string, vecs [][]float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*memoryEntry).vecs = vecs
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, vecs: vecs})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
	}
}
