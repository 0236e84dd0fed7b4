package models

import (
	"net/http"
	"time"
)

type EventType string

const (
	EventTypePush         EventType = "push"
	EventTypePROpened     EventType = "pr_opened"
	EventTypePRMerged     EventType = "pr_merged"
	EventTypePipelineRun  EventType = "pipeline_run"
	EventTypeDeployment   EventType = "deployment"
	EventTypeIaCRun       EventType = "iac_run"
	EventTypeClusterEvent EventType = "cluster_event"
	EventTypeCostAlert    EventType = "cost_alert"
)

var knownEventTypes = map[EventType]struct{}{
	EventTypePush:         {},
	EventTypePROpened:     {},
	EventTypePRMerged:     {},
	EventTypePipelineRun:  {},
	EventTypeDeployment:   {},
	EventTypeIaCRun:       {},
	EventTypeClusterEvent: {},
	EventTypeCostAlert:    {},
}

func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// PayloadSchemaVersion is stamped into every canonical payload under "schema_version".
const PayloadSchemaVersion = 1

// RawWebhookEvent is the verified but unparsed inbound request. It never
// outlives the request that carried it.
type RawWebhookEvent struct {
	Provider   string
	DeliveryID string
	Kind       string
	Headers    http.Header
	Body       []byte
	ReceivedAt time.Time
}

// CanonicalEvent is immutable once the router has assigned Sequence.
type CanonicalEvent struct {
	EventID    string                 `json:"event_id"`
	EntityKey  string                 `json:"entity_key"`
	Type       EventType              `json:"type"`
	Sequence   uint64                 `json:"sequence"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
	ReceivedAt time.Time              `json:"received_at"`
	Provider   string                 `json:"provider,omitempty"`
	DeliveryID string                 `json:"delivery_id,omitempty"`
}
