package semantic

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// vectorCache is an in-process LRU of embeddings keyed by content hash.
type vectorCache struct {
	cache *lru.Cache[string, []float32]
}

func newVectorCache(size int) *vectorCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		// Only reachable with a non-positive size.
		c, _ = lru.New[string, []float32](defaultCacheSize)
	}
	return &vectorCache{cache: c}
}

func (c *vectorCache) get(hash string) ([]float32, bool) {
	return c.cache.Get(hash)
}

func (c *vectorCache) add(hash string, v []float32) {
	c.cache.Add(hash, v)
}

func (c *vectorCache) len() int {
	return c.cache.Len()
}

// contentHash keys an embedding by model and text.
func contentHash(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}
