// Package render memoizes the two expensive steps between store content and
// terminal output: markdown rendering and width-dependent line wrapping. Both
// caches share one discipline, a keyed map plus an explicit insertion-order
// list for bounded oldest-first eviction.
package render

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/glamour"

	"github.com/strandtui/strand/pkg/observability"
)

// markdownCacheMaxEntries bounds the markdown cache. Completed messages are
// immutable, so entries rarely churn; the bound protects very long sessions.
const markdownCacheMaxEntries = 500

// Stats reports cache effectiveness.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns hits over total lookups, 0 when the cache is cold.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// MarkdownCache memoizes rendered markdown keyed by a hash of the source.
// Rendering parses the full document and runs syntax highlighting, which is
// far too slow to repeat on every redraw tick for every visible message.
type MarkdownCache struct {
	mu sync.Mutex

	renderer *glamour.TermRenderer

	entries map[uint64][]string
	// Oldest first; eviction pops from the front.
	insertionOrder []uint64

	hits   uint64
	misses uint64
}

// NewMarkdownCache creates a cache with a default dark-theme renderer.
func NewMarkdownCache() *MarkdownCache {
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &MarkdownCache{
		renderer: renderer,
		entries:  make(map[uint64][]string),
	}
}

func hashContent(content string) uint64 {
	return xxhash.Sum64String(content)
}

// Render returns the styled lines for the given markdown source, rendering
// on first sight and serving the memoized result after.
func (c *MarkdownCache) Render(source string) []string {
	key := hashContent(source)

	c.mu.Lock()
	defer c.mu.Unlock()

	if lines, ok := c.entries[key]; ok {
		c.hits++
		observability.CacheHits.WithLabelValues("markdown").Inc()
		return lines
	}

	c.misses++
	observability.CacheMisses.WithLabelValues("markdown").Inc()

	lines := c.renderLocked(source)

	for len(c.entries) >= markdownCacheMaxEntries && len(c.insertionOrder) > 0 {
		oldest := c.insertionOrder[0]
		c.insertionOrder = c.insertionOrder[1:]
		delete(c.entries, oldest)
		observability.CacheEvictions.WithLabelValues("markdown").Inc()
	}

	c.entries[key] = lines
	c.insertionOrder = append(c.insertionOrder, key)
	return lines
}

func (c *MarkdownCache) renderLocked(source string) []string {
	if c.renderer == nil {
		return strings.Split(source, "\n")
	}
	out, err := c.renderer.Render(source)
	if err != nil {
		// Raw text is always a safe fallback; never fail a redraw.
		return strings.Split(source, "\n")
	}
	return strings.Split(strings.TrimRight(out, "\n"), "\n")
}

// Invalidate drops the entry for one source string.
func (c *MarkdownCache) Invalidate(source string) {
	key := hashContent(source)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.insertionOrder {
		if k == key {
			c.insertionOrder = append(c.insertionOrder[:i], c.insertionOrder[i+1:]...)
			break
		}
	}
}

// Clear drops every entry. Stats survive.
func (c *MarkdownCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64][]string)
	c.insertionOrder = nil
}

// Len returns the number of resident entries.
func (c *MarkdownCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *MarkdownCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}
