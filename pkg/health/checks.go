package health

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type checkFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// Func adapts fn to a named Checker.
func Func(name string, fn func(ctx context.Context) error) Checker {
	return checkFunc{name: name, fn: fn}
}

func Postgres(db *sql.DB) Checker {
	return Func("postgresql", func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgresql ping failed: %w", err)
		}
		return nil
	})
}

func Redis(client redis.UniversalClient) Checker {
	return Func("redis", func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

func MongoDB(client *mongo.Client) Checker {
	return Func("mongodb", func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	})
}

// NATS reports a reconnecting client as degraded; the dispatcher retries
// push notifications until the connection is back.
func NATS(conn *nats.Conn) Checker {
	return Func("nats", func(context.Context) error {
		switch status := conn.Status(); status {
		case nats.CONNECTED:
			return nil
		case nats.RECONNECTING, nats.CONNECTING:
			return Degraded("nats %s", status)
		default:
			return fmt.Errorf("nats connection %s", status)
		}
	})
}

type stateReporter interface {
	State() string
}

// Breaker degrades while the named circuit breaker is open.
func Breaker(name string, b stateReporter) Checker {
	return Func(name, func(context.Context) error {
		if state := b.State(); state == "open" {
			return Degraded("circuit breaker %s", state)
		}
		return nil
	})
}
