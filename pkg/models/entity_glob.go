package models

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// EntityGlob is a compiled entity_key pattern. Entity keys contain "/", and
// "*" matches across it: "repo:*" covers every repository and "repo:acme/*"
// covers subgroup repositories such as "repo:acme/platform/api". "?", "[...]"
// and "{a,b}" are also supported.
type EntityGlob struct {
	raw string
	g   glob.Glob
}

func CompileEntityGlob(pattern string) (EntityGlob, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return EntityGlob{}, fmt.Errorf("invalid entity pattern %q: %w", pattern, err)
	}
	return EntityGlob{raw: pattern, g: g}, nil
}

func (e EntityGlob) Match(entityKey string) bool {
	return e.g != nil && e.g.Match(entityKey)
}

func (e EntityGlob) String() string {
	return e.raw
}

// Patterns come from rules and forwarding routes, so the cache is bounded by
// configuration.
var entityGlobs sync.Map

// MatchEntityGlob reports whether entityKey matches pattern. An invalid
// pattern matches nothing.
func MatchEntityGlob(pattern, entityKey string) bool {
	if cached, ok := entityGlobs.Load(pattern); ok {
		return cached.(EntityGlob).Match(entityKey)
	}
	compiled, err := CompileEntityGlob(pattern)
	if err != nil {
		compiled = EntityGlob{raw: pattern}
	}
	entityGlobs.Store(pattern, compiled)
	return compiled.Match(entityKey)
}
