package hub

import (
	"sort"
	"sync"

	"devpulse/pkg/models"
)

const maxCachedKeys = 10000

// index maps connections to their patterns and caches the reverse lookup
// (entity key, type) -> connection ids. Any subscription change drops the
// cache.
type index struct {
	mu    sync.RWMutex
	subs  map[string]map[string]Pattern
	cache map[string][]string
}

func newIndex() *index {
	return &index{
		subs:  make(map[string]map[string]Pattern),
		cache: make(map[string][]string),
	}
}

func (ix *index) add(connID string, patterns []Pattern) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set, ok := ix.subs[connID]
	if !ok {
		set = make(map[string]Pattern)
		ix.subs[connID] = set
	}
	for _, p := range patterns {
		set[p.raw] = p
	}
	ix.cache = make(map[string][]string)
	return sortedPatterns(set)
}

// remove drops the given patterns, or every pattern when none are given.
func (ix *index) remove(connID string, patterns []string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set, ok := ix.subs[connID]
	if !ok {
		return nil
	}
	if len(patterns) == 0 {
		delete(ix.subs, connID)
		set = nil
	} else {
		for _, p := range patterns {
			delete(set, p)
		}
		if len(set) == 0 {
			delete(ix.subs, connID)
		}
	}
	ix.cache = make(map[string][]string)
	return sortedPatterns(set)
}

func (ix *index) patterns(connID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return sortedPatterns(ix.subs[connID])
}

func (ix *index) lookup(entityKey string, eventType models.EventType) []string {
	cacheKey := string(eventType) + "\x00" + entityKey

	ix.mu.RLock()
	ids, ok := ix.cache[cacheKey]
	ix.mu.RUnlock()
	if ok {
		return ids
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ids, ok := ix.cache[cacheKey]; ok {
		return ids
	}

	ids = nil
	for connID, set := range ix.subs {
		for _, p := range set {
			if p.Match(entityKey, eventType) {
				ids = append(ids, connID)
				break
			}
		}
	}
	if len(ix.cache) >= maxCachedKeys {
		ix.cache = make(map[string][]string)
	}
	ix.cache[cacheKey] = ids
	return ids
}

func sortedPatterns(set map[string]Pattern) []string {
	out := make([]string, 0, len(set))
	for raw := range set {
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}
