package hub

import (
	"fmt"
	"strings"

	"devpulse/pkg/models"
)

// Pattern selects events for a subscription. A known event type name matches
// the event's type; anything else is an entity_key glob (see
// models.EntityGlob), so "repo:*" follows every repository.
type Pattern struct {
	raw       string
	eventType bool
	entity    models.EntityGlob
}

func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	if models.EventType(s).Valid() {
		return Pattern{raw: s, eventType: true}, nil
	}
	entity, err := models.CompileEntityGlob(s)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{raw: s, entity: entity}, nil
}

func ParsePatterns(raw []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePattern(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p Pattern) String() string {
	return p.raw
}

func (p Pattern) Match(entityKey string, eventType models.EventType) bool {
	if p.eventType {
		return string(eventType) == p.raw
	}
	return p.entity.Match(entityKey)
}
