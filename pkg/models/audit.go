package models

import (
	"time"
)

type AuditKind string

const (
	AuditKindAdmission AuditKind = "admission"
	AuditKindDelivery  AuditKind = "delivery"
)

type AdmissionOutcome string

const (
	OutcomeAdmitted            AdmissionOutcome = "admitted"
	OutcomeDuplicate           AdmissionOutcome = "duplicate"
	OutcomeRejectedSignature   AdmissionOutcome = "rejected_signature"
	OutcomeUnsupportedProvider AdmissionOutcome = "unsupported_provider"
	OutcomeMalformed           AdmissionOutcome = "malformed"
	OutcomeUnavailable         AdmissionOutcome = "unavailable"
	OutcomeBusy                AdmissionOutcome = "busy"
)

// Delivery outcomes for work that never became, or never finished as, a
// delivery attempt. They sit beside the DeliveryState values in delivery
// records.
const (
	OutcomeDispatchRejected = "dispatch_rejected"
	OutcomeAbandoned        = "abandoned"
)

// AuditRecord is append-only. Outcome carries an AdmissionOutcome for
// admission records and a DeliveryState for delivery records.
type AuditRecord struct {
	ID         string                 `json:"id" bson:"_id"`
	Kind       AuditKind              `json:"kind" bson:"kind"`
	Outcome    string                 `json:"outcome" bson:"outcome"`
	Provider   string                 `json:"provider,omitempty" bson:"provider,omitempty"`
	DeliveryID string                 `json:"delivery_id,omitempty" bson:"delivery_id,omitempty"`
	EventID    string                 `json:"event_id,omitempty" bson:"event_id,omitempty"`
	EntityKey  string                 `json:"entity_key,omitempty" bson:"entity_key,omitempty"`
	Target     string                 `json:"target,omitempty" bson:"target,omitempty"`
	Attempt    int                    `json:"attempt,omitempty" bson:"attempt,omitempty"`
	Error      string                 `json:"error,omitempty" bson:"error,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
	RecordedAt time.Time              `json:"recorded_at" bson:"recorded_at"`
}

func NewAdmissionRecord(provider, deliveryID string, outcome AdmissionOutcome) AuditRecord {
	return AuditRecord{
		Kind:       AuditKindAdmission,
		Outcome:    string(outcome),
		Provider:   provider,
		DeliveryID: deliveryID,
		RecordedAt: time.Now().UTC(),
	}
}

func NewDeliveryRecord(attempt DeliveryAttempt) AuditRecord {
	details := map[string]interface{}{
		"notification_id": attempt.NotificationID,
		"attempt_id":      attempt.ID,
	}
	if !attempt.NextRetryAt.IsZero() {
		details["next_retry_at"] = attempt.NextRetryAt
	}
	return AuditRecord{
		Kind:       AuditKindDelivery,
		Outcome:    string(attempt.State),
		EventID:    attempt.EventID,
		EntityKey:  attempt.EntityKey,
		Target:     attempt.Target.String(),
		Attempt:    attempt.Attempt,
		Error:      attempt.LastError,
		Details:    details,
		RecordedAt: time.Now().UTC(),
	}
}

// NewDispatchRejectedRecord records a target the dispatcher never accepted,
// so no DeliveryAttempt exists for it.
func NewDispatchRejectedRecord(notification Notification, target Target, reason string) AuditRecord {
	details := map[string]interface{}{
		"notification_id": notification.ID,
		"kind":            string(notification.Kind),
	}
	if notification.Alert != nil {
		details["rule_id"] = notification.Alert.RuleID
	}
	return AuditRecord{
		Kind:       AuditKindDelivery,
		Outcome:    OutcomeDispatchRejected,
		EventID:    notification.EventID,
		EntityKey:  notification.EntityKey,
		Target:     target.String(),
		Error:      reason,
		Details:    details,
		RecordedAt: time.Now().UTC(),
	}
}

// NewAbandonedRecord closes the audit history of an attempt that was still
// queued when the dispatcher stopped.
func NewAbandonedRecord(attempt DeliveryAttempt, reason string) AuditRecord {
	record := NewDeliveryRecord(attempt)
	record.Outcome = OutcomeAbandoned
	record.Error = reason
	record.Details["last_state"] = string(attempt.State)
	if attempt.LastError != "" {
		record.Details["last_error"] = attempt.LastError
	}
	return record
}
