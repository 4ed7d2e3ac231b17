// Package script implements the embedded NKSP scripting VM: a lexer,
// recursive-descent parser, and tree-walking interpreter driven by an
// explicit frame stack rather than host goroutines, so a handler instance
// can be suspended between render cycles with no OS thread pinned to it.
package script

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// programCacheTTL mirrors the teacher's session-level plugin cache TTL:
// compiled programs are cheap to recompute but not free, and instrument
// loads frequently reuse the same embedded script source.
const programCacheTTL = 24 * time.Hour

// Cache memoizes Parse results by source text, so loading many Regions
// that share an identical script body compiles it once.
type Cache struct {
	c *cache.Cache
}

// NewCache creates an empty program cache with the standard TTL and a
// cleanup sweep at twice that interval.
func NewCache() *Cache {
	return &Cache{c: cache.New(programCacheTTL, 2*programCacheTTL)}
}

// Compile returns the cached Program for src, parsing and inserting it on
// a miss. The returned Program is shared and must not be mutated; callers
// needing mutable symbol state use Globals alongside it.
func (c *Cache) Compile(src string) *Program {
	key := hashSource(src)
	if v, ok := c.c.Get(key); ok {
		return v.(*Program)
	}
	prog := Parse(src)
	c.c.Set(key, prog, cache.DefaultExpiration)
	return prog
}

func hashSource(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}
