// Package tokens approximates the model token cost of text spans.
package tokens

import (
	"math"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultCacheSize = 512
	MinCacheSize     = 32
	punctWeight      = 0.2
	charsPerToken    = 4.0
)

type cacheKey struct {
	model string
	text  string
}

// Estimator is safe for concurrent use. The cache only memoizes Count and
// never changes its result.
type Estimator struct {
	model string
	mu    sync.Mutex
	cache *simplelru.LRU[cacheKey, int]
}

func NewEstimator(model string, cacheSize int) *Estimator {
	if cacheSize < MinCacheSize {
		cacheSize = MinCacheSize
	}
	cache, err := simplelru.NewLRU[cacheKey, int](cacheSize, nil)
	if err != nil {
		// Only reachable with a non-positive size, which is clamped above.
		panic(err)
	}
	return &Estimator{model: model, cache: cache}
}

func (e *Estimator) Model() string {
	return e.model
}

// Estimate returns the cached or freshly computed cost of text.
func (e *Estimator) Estimate(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	key := cacheKey{model: e.model, text: text}
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.cache.Get(key); ok {
		return n
	}
	n := Count(text)
	e.cache.Add(key, n)
	return n
}

// Len reports how many estimates are cached.
func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

// Count averages a word-based and a character-based estimate. Blank text
// costs 0; anything else costs at least 1.
func Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	words := len(strings.Fields(text))
	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	chars := float64(utf8.RuneCountInString(text)) / charsPerToken
	estimate := int(math.Round((float64(words) + punctWeight*float64(punct) + chars) / 2))
	if estimate < 1 {
		return 1
	}
	return estimate
}
