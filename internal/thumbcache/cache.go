// Package thumbcache keeps decoded window thumbnails between redraws so the
// presentation layer does not decode the same base64 PPM every frame.
//
// Entries are keyed by window address and validated by a checksum of the
// encoded payload. Every redraw bumps a generation; entries touched during
// the redraw are stamped with it and Prune drops the rest.
package thumbcache

import (
	"image"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
)

type entry struct {
	checksum   uint64
	img        image.Image
	generation uint32
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	generation uint32
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Checksum hashes an encoded thumbnail; the empty payload hashes to 0.
func Checksum(b64 string) uint64 {
	if b64 == "" {
		return 0
	}
	return xxhash.Sum64String(b64)
}

// BumpGeneration starts a new redraw pass and returns its generation.
// Generation 0 is never used.
func (c *Cache) BumpGeneration() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.generation == 0 {
		c.generation = 1
	}
	return c.generation
}

// Generation returns the current generation.
func (c *Cache) Generation() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Lookup returns the cached image for addr if its checksum matches
// (checksum 0 accepts any entry). A hit is stamped with gen.
func (c *Cache) Lookup(addr string, checksum uint64, gen uint32) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return nil, false
	}
	if checksum != 0 && e.checksum != checksum {
		return nil, false
	}
	e.generation = gen
	return e.img, true
}

// Store replaces whatever is cached for addr.
func (c *Cache) Store(addr string, checksum uint64, img image.Image, gen uint32) {
	if addr == "" || img == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[addr] = &entry{checksum: checksum, img: img, generation: gen}
}

// Prune evicts every entry not stamped with gen and returns how many went.
func (c *Cache) Prune(gen uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for addr, e := range c.entries {
		if e.generation != gen {
			delete(c.entries, addr)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Resolve returns the decoded thumbnail for addr, decoding and storing it on
// a miss. hit reports whether the cache served it.
func (c *Cache) Resolve(addr, b64 string, gen uint32) (img image.Image, hit bool, err error) {
	if b64 == "" {
		return nil, false, nil
	}
	sum := Checksum(b64)
	if img, ok := c.Lookup(addr, sum, gen); ok {
		return img, true, nil
	}

	decoded, err := capture.DecodeBase64PPM(b64)
	if err != nil {
		return nil, false, err
	}
	c.Store(addr, sum, decoded, gen)
	return decoded, false, nil
}
