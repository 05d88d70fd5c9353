package translate

import (
	"context"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes successful translations of identical text.
type Cached struct {
	next  Translator
	model string
	cache *lru.Cache[string, string]
}

// NewCached wraps next with an LRU of the given size. A size of zero disables
// caching and returns next unchanged.
func NewCached(next Translator, model string, size int) (Translator, error) {
	if size <= 0 {
		return next, nil
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, model: model, cache: cache}, nil
}

func (c *Cached) Translate(ctx context.Context, text string) (string, error) {
	key := c.model + "\x00" + text
	if hit, ok := c.cache.Get(key); ok {
		log.Printf("Translate: cache hit")
		return hit, nil
	}
	out, err := c.next.Translate(ctx, text)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}

// Len reports the number of cached translations.
func (c *Cached) Len() int { return c.cache.Len() }
