package render

import (
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/strandtui/strand/pkg/observability"
)

// linesCacheMaxEntries bounds the rendered-lines cache.
const linesCacheMaxEntries = 500

// LineKey identifies one rendered message revision.
type LineKey struct {
	ThreadID      string
	MessageID     int64
	RenderVersion uint64
}

// LinesCache memoizes width-wrapped display lines per message revision.
// Entries are evicted oldest-insertion-first; a lookup does not refresh an
// entry's position. Inserting a newer render version eagerly drops the stale
// versions of the same message instead of letting them age out.
type LinesCache struct {
	mu sync.Mutex

	entries        map[LineKey][]string
	insertionOrder []LineKey

	// Wrapping is width-dependent; a viewport resize invalidates everything.
	lastWidth int
}

// NewLinesCache creates an empty rendered-lines cache.
func NewLinesCache() *LinesCache {
	return &LinesCache{entries: make(map[LineKey][]string)}
}

// Get returns the cached lines for a message revision.
func (c *LinesCache) Get(key LineKey) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, ok := c.entries[key]
	if ok {
		observability.CacheHits.WithLabelValues("lines").Inc()
	} else {
		observability.CacheMisses.WithLabelValues("lines").Inc()
	}
	return lines, ok
}

// Put stores lines for a message revision, evicting the oldest entries past
// capacity and any other revision of the same message.
func (c *LinesCache) Put(key LineKey, lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) >= linesCacheMaxEntries && len(c.insertionOrder) > 0 {
		oldest := c.insertionOrder[0]
		c.insertionOrder = c.insertionOrder[1:]
		delete(c.entries, oldest)
		observability.CacheEvictions.WithLabelValues("lines").Inc()
	}

	// A new render version supersedes the old ones immediately.
	for k := range c.entries {
		if k.ThreadID == key.ThreadID && k.MessageID == key.MessageID && k.RenderVersion != key.RenderVersion {
			delete(c.entries, k)
		}
	}
	kept := c.insertionOrder[:0]
	for _, k := range c.insertionOrder {
		if _, ok := c.entries[k]; ok {
			kept = append(kept, k)
		}
	}
	c.insertionOrder = kept

	c.entries[key] = lines
	c.insertionOrder = append(c.insertionOrder, key)
}

// Contains reports whether a revision is resident without counting a hit.
func (c *LinesCache) Contains(key LineKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// InvalidateIfWidthChanged clears the cache when the viewport width moved.
// Called once at the top of every render pass.
func (c *LinesCache) InvalidateIfWidthChanged(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastWidth == width {
		return
	}
	if c.lastWidth != 0 {
		c.entries = make(map[LineKey][]string)
		c.insertionOrder = nil
	}
	c.lastWidth = width
}

// Clear drops every entry and forgets the remembered width.
func (c *LinesCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[LineKey][]string)
	c.insertionOrder = nil
	c.lastWidth = 0
}

// Len returns the number of resident entries.
func (c *LinesCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// WrapLines wraps text to the given display width, breaking on rune
// boundaries with wide-character awareness. Zero or negative width returns
// the text split on newlines only.
func WrapLines(text string, width int) []string {
	raw := strings.Split(text, "\n")
	if width <= 0 {
		return raw
	}

	var out []string
	for _, line := range raw {
		if line == "" {
			out = append(out, "")
			continue
		}
		var b strings.Builder
		col := 0
		for _, r := range line {
			w := runewidth.RuneWidth(r)
			if col+w > width && col > 0 {
				out = append(out, b.String())
				b.Reset()
				col = 0
			}
			b.WriteRune(r)
			col += w
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}
