package bucket

import (
	"regexp"

	"github.com/dgraph-io/ristretto"
)

// PatternCache memoizes compiled matcher patterns. The same rule pattern
// recurs across every user the rule applies to, so compiles are shared
// store-wide. The cache is lossy; a dropped entry only costs a recompile.
type PatternCache struct {
	cache *ristretto.Cache
}

// compileFailed is the cached marker for patterns that are not valid regexp.
type compileFailed struct{}

// NewPatternCache creates a pattern cache sized for a few thousand distinct
// rule patterns.
func NewPatternCache() *PatternCache {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	return &PatternCache{cache: cache}
}

// Compile returns the compiled pattern. ok is false when the pattern is not
// valid regexp and the caller should fall back to literal comparison.
func (p *PatternCache) Compile(pattern string) (*regexp.Regexp, bool) {
	if p.cache != nil {
		if v, found := p.cache.Get(pattern); found {
			if re, ok := v.(*regexp.Regexp); ok {
				return re, true
			}
			return nil, false
		}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		if p.cache != nil {
			p.cache.Set(pattern, compileFailed{}, int64(len(pattern)))
		}
		return nil, false
	}

	if p.cache != nil {
		p.cache.Set(pattern, re, int64(len(pattern)))
	}
	return re, true
}
