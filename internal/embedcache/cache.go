package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"faceattend/internal/faceclient"
	"faceattend/internal/metrics"
)

// ErrUnavailable means no embedding could be computed for an image.
var ErrUnavailable = errors.New("embedding unavailable")

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 1024

// Representer computes a face embedding for an image file.
type Representer interface {
	Represent(ctx context.Context, path string, opts faceclient.Options) ([]float32, error)
}

// Cache memoizes embeddings by image content, so a reused path with new
// content is recomputed. Oldest entries are evicted first once full.
type Cache struct {
	rep  Representer
	opts faceclient.Options
	max  int

	mu    sync.Mutex
	items map[string][]float32
	order []string
}

// New creates a cache in front of rep. opts should match the detection
// settings used for verification.
func New(rep Representer, opts faceclient.Options, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		rep:   rep,
		opts:  opts,
		max:   maxEntries,
		items: make(map[string][]float32),
	}
}

// Compute returns the embedding for the image at path, computing it at most
// once per distinct content.
func (c *Cache) Compute(ctx context.Context, path string) ([]float32, error) {
	key, err := contentKey(path)
	if err != nil {
		metrics.EmbeddingCache.WithLabelValues("error").Inc()
		log.Printf("embedding: hash %s failed: %v", path, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	emb, ok := c.items[key]
	c.mu.Unlock()
	if ok {
		metrics.EmbeddingCache.WithLabelValues("hit").Inc()
		return emb, nil
	}

	metrics.EmbeddingCache.WithLabelValues("miss").Inc()
	emb, err = c.rep.Represent(ctx, path, c.opts)
	if err != nil {
		log.Printf("embedding: compute %s failed: %v", path, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
		for len(c.order) > c.max {
			delete(c.items, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.items[key] = emb
	return emb, nil
}

// Len reports how many embeddings are held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func contentKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
