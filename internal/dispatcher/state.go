package dispatcher

import (
	"fmt"
	"time"

	"devpulse/pkg/models"
)

var transitions = map[models.DeliveryState][]models.DeliveryState{
	models.StatePending:    {models.StateDelivering},
	models.StateDelivering: {models.StateDelivered, models.StateRetrying, models.StateDeadLettered},
	models.StateRetrying:   {models.StateDelivering},
}

// CanTransition reports whether an attempt may move from one state to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to models.DeliveryState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transition(attempt *models.DeliveryAttempt, to models.DeliveryState, now time.Time) error {
	if !CanTransition(attempt.State, to) {
		return fmt.Errorf("invalid delivery transition %s -> %s for attempt %s", attempt.State, to, attempt.ID)
	}
	attempt.State = to
	attempt.UpdatedAt = now
	return nil
}
