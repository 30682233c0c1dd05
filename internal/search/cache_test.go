package search

import (
	"context"
	"testing"
)

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache(4)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Get on empty cache returned ok")
	}

	vecs := [][]float32{{1, 0}, {0, 1}}
	c.Put(ctx, "k1", vecs)
	got, ok := c.Get(ctx, "k1")
	if !ok {
		t.Fatal("Get after Put returned !ok")
	}
	if len(got) != 2 || got[0][0] != 1 {
		t.Errorf("got %v, want %v", got, vecs)
	}
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	c.Put(ctx, "a", [][]float32{{1}})
	c.Put(ctx, "b", [][]float32{{2}})

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatal("a missing before eviction")
	}
	c.Put(ctx, "c", [][]float32{{3}})

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(ctx, k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestMemoryCache_UpdateExisting(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	c.Put(ctx, "k", [][]float32{{1}})
	c.Put(ctx, "k", [][]float32{{9}})

	got, ok := c.Get(ctx, "k")
	if !ok || got[0][0] != 9 {
		t.Errorf("got %v ok=%v, want updated value", got, ok)
	}
}

func TestCacheKey_IncludesModel(t *testing.T) {
	a := cacheKey("alice", "v1", "model-a")
	b := cacheKey("alice", "v1", "model-b")
	if a == b {
		t.Error("cache keys for different models must differ")
	}
}
