package rules

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCompileCacheSize is the number of compiled programs kept when no
// size is configured.
const DefaultCompileCacheSize = 4096

type compiled struct {
	prog *Program
	err  error
}

// CompileCache memoizes Compile by source text. Compile failures are cached
// as well, so a broken rule is parsed once per cache lifetime rather than
// once per action. Safe for concurrent use; cached programs are immutable.
type CompileCache struct {
	lru *lru.Cache[[sha256.Size]byte, compiled]
}

// NewCompileCache creates a cache holding up to size programs.
func NewCompileCache(size int) *CompileCache {
	if size <= 0 {
		size = DefaultCompileCacheSize
	}
	c, err := lru.New[[sha256.Size]byte, compiled](size)
	if err != nil {
		panic(err)
	}
	return &CompileCache{lru: c}
}

// Compile returns the cached program for source, compiling it on a miss.
func (c *CompileCache) Compile(source string) (*Program, error) {
	key := sha256.Sum256([]byte(source))
	if hit, ok := c.lru.Get(key); ok {
		return hit.prog, hit.err
	}
	prog, err := Compile(source)
	c.lru.Add(key, compiled{prog: prog, err: err})
	return prog, err
}

// Len reports the number of cached entries.
func (c *CompileCache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached entry.
func (c *CompileCache) Purge() {
	c.lru.Purge()
}
