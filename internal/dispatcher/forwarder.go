package dispatcher

import (
	"context"
	"fmt"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	"devpulse/pkg/models"
)

type Notifier interface {
	Dispatch(ctx context.Context, notification models.Notification, targets []models.Target) ([]models.DeliveryAttempt, error)
}

type forwardRoute struct {
	name    string
	scope   models.Scope
	targets []models.Target
}

// Forwarder is a router consumer that hands matching canonical events to the
// dispatcher as event notifications. An event matched by several routes is
// dispatched once, to the union of their targets.
type Forwarder struct {
	notifier Notifier
	routes   []forwardRoute
	logger   logger.Logger
}

func NewForwarder(notifier Notifier, routes []config.ForwardRoute, log logger.Logger) *Forwarder {
	f := &Forwarder{notifier: notifier, logger: log}
	for i, rc := range routes {
		route := forwardRoute{
			name:  rc.Name,
			scope: models.Scope{EntityPattern: rc.EntityPattern},
		}
		if route.name == "" {
			route.name = fmt.Sprintf("route-%d", i)
		}
		for _, t := range rc.EventTypes {
			route.scope.EventTypes = append(route.scope.EventTypes, models.EventType(t))
		}
		for _, tc := range rc.Targets {
			route.targets = append(route.targets, models.Target{
				Channel:     models.ChannelType(tc.Channel),
				Destination: tc.Destination,
			})
		}
		f.routes = append(f.routes, route)
	}
	return f
}

func (f *Forwarder) Name() string {
	return "forwarder"
}

func (f *Forwarder) Consume(ctx context.Context, event models.CanonicalEvent) error {
	var (
		targets []models.Target
		matched []string
	)
	seen := make(map[string]struct{})
	for _, route := range f.routes {
		if !route.scope.Matches(event.EntityKey, event.Type) {
			continue
		}
		matched = append(matched, route.name)
		for _, t := range route.targets {
			if _, ok := seen[t.String()]; ok {
				continue
			}
			seen[t.String()] = struct{}{}
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	attempts, err := f.notifier.Dispatch(ctx, models.NewEventNotification(event), targets)
	if err != nil {
		return fmt.Errorf("failed to forward event %s: %w", event.EventID, err)
	}
	f.logger.DebugwCtx(ctx, "Event forwarded",
		"event_id", event.EventID,
		"routes", matched,
		"attempts", len(attempts),
	)
	return nil
}
