package market

import (
	"sort"
	"sync"
)

// Store is an in-memory candle cache keyed by symbol|interval. The agent
// fills it once per cycle; strategies and the control surface read from it.
type Store struct {
	mu        sync.RWMutex
	maxCached int
	data      map[string][]Candle
}

func NewStore(maxCached int) *Store {
	if maxCached <= 0 {
		maxCached = 300
	}
	return &Store{maxCached: maxCached, data: make(map[string][]Candle)}
}

func key(symbol, interval string) string { return symbol + "|" + interval }

// Put merges candles into the cache, deduplicating on open time and
// trimming to the configured max.
func (s *Store) Put(symbol, interval string, candles []Candle) {
	if s == nil || len(candles) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(symbol, interval)
	merged := s.data[k]
	seen := make(map[int64]int, len(merged))
	for i, c := range merged {
		seen[c.OpenTime] = i
	}
	for _, c := range candles {
		if i, ok := seen[c.OpenTime]; ok {
			merged[i] = c
			continue
		}
		seen[c.OpenTime] = len(merged)
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime < merged[j].OpenTime })
	if len(merged) > s.maxCached {
		merged = merged[len(merged)-s.maxCached:]
	}
	s.data[k] = merged
}

// Get returns a copy of the cached candles for symbol|interval.
func (s *Store) Get(symbol, interval string) []Candle {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached := s.data[key(symbol, interval)]
	if len(cached) == 0 {
		return nil
	}
	out := make([]Candle, len(cached))
	copy(out, cached)
	return out
}
