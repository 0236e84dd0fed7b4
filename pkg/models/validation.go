package models

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateCanonicalEvent(e *CanonicalEvent) error {
	if e == nil {
		return &ValidationError{
			Field:   "event",
			Message: "canonical event cannot be nil",
		}
	}

	if e.EventID == "" {
		return &ValidationError{
			Field:   "event_id",
			Message: "event ID is required",
		}
	}

	if e.EntityKey == "" {
		return &ValidationError{
			Field:   "entity_key",
			Message: "entity key is required",
		}
	}

	if !e.Type.Valid() {
		return &ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown event type %q", e.Type),
		}
	}

	if e.Payload == nil {
		return &ValidationError{
			Field:   "payload",
			Message: "payload cannot be nil",
		}
	}

	return nil
}

func ValidateAlertRule(r *AlertRule) error {
	if r.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "rule ID is required",
		}
	}

	if r.EntityPattern != "" {
		if _, err := CompileEntityGlob(r.EntityPattern); err != nil {
			return &ValidationError{
				Field:   "entity_pattern",
				Message: err.Error(),
			}
		}
	}

	for _, t := range r.EventTypes {
		if !t.Valid() {
			return &ValidationError{
				Field:   "event_types",
				Message: fmt.Sprintf("unknown event type %q", t),
			}
		}
	}

	if r.Cooldown < 0 {
		return &ValidationError{
			Field:   "cooldown",
			Message: "cooldown must be non-negative",
		}
	}

	if len(r.Targets) == 0 {
		return &ValidationError{
			Field:   "targets",
			Message: "at least one target is required",
		}
	}

	return nil
}
