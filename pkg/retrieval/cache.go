package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Cache is the process-wide lyrics cache. Keys are case-folded titles. It is
// loaded once at startup and flushed once at shutdown; in between it is a
// pure in-memory map guarded by a lock.
type Cache struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewCache returns an empty in-memory cache, useful for tests.
func NewCache() *Cache {
	return &Cache{entries: map[string]string{}}
}

// OpenCache loads the durable cache from path. A missing file yields an
// empty cache; a corrupt file is an error so a bad hand-edit is noticed.
func OpenCache(path string) (*Cache, error) {
	cache := NewCache()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cache, nil
		}
		return nil, fmt.Errorf("read lyrics cache: %w", err)
	}
	if err := json.Unmarshal(data, &cache.entries); err != nil {
		return nil, fmt.Errorf("parse lyrics cache %s: %w", path, err)
	}
	if cache.entries == nil {
		cache.entries = map[string]string{}
	}
	return cache, nil
}

// cacheKey folds with ToLower, which maps rune-by-rune: full case folding
// pairs such as "ß"/"SS" key separately. Titles are normalized the same
// way before every lookup, so keys stay consistent within the pipeline.
func cacheKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func (c *Cache) Get(title string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lyrics, ok := c.entries[cacheKey(title)]
	if !ok || lyrics == "" {
		return "", false
	}
	return lyrics, true
}

func (c *Cache) Put(title, lyrics string) {
	if lyrics == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(title)] = lyrics
}

// Evict removes a stale entry. An empty lookup result is a valid signal to
// drop whatever was cached before, not something to cache.
func (c *Cache) Evict(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(title))
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush writes the cache as human-readable JSON (sorted keys, indented) so
// it is safe to hand-inspect or hand-edit between runs.
func (c *Cache) Flush(path string) error {
	c.mu.Lock()
	snapshot := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lyrics cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write lyrics cache: %w", err)
	}
	return nil
}
