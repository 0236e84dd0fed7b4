package models

import (
	"time"
)

type DeliveryState string

const (
	StatePending      DeliveryState = "Pending"
	StateDelivering   DeliveryState = "Delivering"
	StateDelivered    DeliveryState = "Delivered"
	StateRetrying     DeliveryState = "Retrying"
	StateDeadLettered DeliveryState = "DeadLettered"
)

func (s DeliveryState) Terminal() bool {
	return s == StateDelivered || s == StateDeadLettered
}

type NotificationKind string

const (
	NotificationAlert NotificationKind = "alert"
	NotificationEvent NotificationKind = "event"
)

// Notification is what the dispatcher fans out to targets: either an alert or
// a canonical event routed directly to a channel.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	EventID   string           `json:"event_id"`
	EntityKey string           `json:"entity_key"`
	Alert     *AlertEvent      `json:"alert,omitempty"`
	Event     *CanonicalEvent  `json:"event,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func NewAlertNotification(alert AlertEvent) Notification {
	return Notification{
		ID:        alert.ID,
		Kind:      NotificationAlert,
		EventID:   alert.SourceEventID,
		EntityKey: alert.EntityKey,
		Alert:     &alert,
		CreatedAt: alert.Timestamp,
	}
}

func NewEventNotification(event CanonicalEvent) Notification {
	return Notification{
		ID:        event.EventID,
		Kind:      NotificationEvent,
		EventID:   event.EventID,
		EntityKey: event.EntityKey,
		Event:     &event,
		CreatedAt: event.ReceivedAt,
	}
}

type DeliveryAttempt struct {
	ID             string        `json:"id"`
	NotificationID string        `json:"notification_id"`
	EventID        string        `json:"event_id"`
	EntityKey      string        `json:"entity_key"`
	Target         Target        `json:"target"`
	Attempt        int           `json:"attempt"`
	State          DeliveryState `json:"state"`
	LastError      string        `json:"last_error,omitempty"`
	NextRetryAt    time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
