package models

import (
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type ChannelType string

const (
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelEmail   ChannelType = "email"
	ChannelPush    ChannelType = "push"
	ChannelKafka   ChannelType = "kafka"
	ChannelLog     ChannelType = "log"
)

type Target struct {
	Channel     ChannelType `json:"channel" bson:"channel"`
	Destination string      `json:"destination" bson:"destination"`
}

func (t Target) String() string {
	return string(t.Channel) + ":" + t.Destination
}

// AlertRule is read-only here; its lifecycle belongs to the rule store.
type AlertRule struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	EntityPattern string        `json:"entity_pattern"`
	EventTypes    []EventType   `json:"event_types"`
	Expression    string        `json:"expression"`
	Severity      Severity      `json:"severity"`
	Cooldown      time.Duration `json:"cooldown"`
	Targets       []Target      `json:"targets"`
	Enabled       bool          `json:"enabled"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Scope selects events by entity key glob and event type. An empty pattern or
// type list matches everything.
type Scope struct {
	EntityPattern string      `json:"entity_pattern"`
	EventTypes    []EventType `json:"event_types"`
}

func (s Scope) Matches(entityKey string, eventType EventType) bool {
	if s.EntityPattern != "" && s.EntityPattern != "*" {
		if !MatchEntityGlob(s.EntityPattern, entityKey) {
			return false
		}
	}

	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// InScope reports whether the rule's entity pattern and event types cover the event.
func (r AlertRule) InScope(entityKey string, eventType EventType) bool {
	return Scope{EntityPattern: r.EntityPattern, EventTypes: r.EventTypes}.Matches(entityKey, eventType)
}

type AlertEvent struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"rule_id"`
	RuleName      string    `json:"rule_name"`
	SourceEventID string    `json:"source_event_id"`
	EntityKey     string    `json:"entity_key"`
	EventType     EventType `json:"event_type"`
	Sequence      uint64    `json:"sequence"`
	Severity      Severity  `json:"severity"`
	Timestamp     time.Time `json:"timestamp"`
}
