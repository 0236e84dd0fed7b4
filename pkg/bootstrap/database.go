package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"devpulse/internal/config"
	"devpulse/pkg/retry"
)

// connectPolicy covers stores that come up alongside the service.
var connectPolicy = retry.Policy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2.0,
	Jitter:          0.2,
}

func (b *Base) ping(ctx context.Context, store string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, connectPolicy, func() error { return fn(ctx) },
		func(attempt int, err error, next time.Duration) {
			b.Logger.Warnw("Store not reachable yet", "store", store, "attempt", attempt, "retry_in", next, "error", err)
		})
}

// OpenRedis returns nil when no Redis host is configured; the memory
// backends are used instead. The client is closed on Shutdown.
func (b *Base) OpenRedis(ctx context.Context) (*redis.Client, error) {
	rc := b.Config.Database.Redis
	if !rc.Enabled() {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port)),
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := b.ping(ctx, "redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	b.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	b.Logger.Infow("Redis connected", "addr", rdb.Options().Addr, "db", rc.DB)
	return rdb, nil
}

// PostgresDSN builds a lib/pq URL, escaping the credentials.
func PostgresDSN(pc config.PostgresConfig) string {
	sslMode := pc.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pc.User, pc.Password),
		Host:     net.JoinHostPort(pc.Host, strconv.Itoa(pc.Port)),
		Path:     "/" + pc.DBName,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

func (b *Base) OpenPostgres(ctx context.Context) (*sql.DB, error) {
	pc := b.Config.Database.Postgres
	if !pc.Enabled() {
		return nil, nil
	}

	db, err := sql.Open("postgres", PostgresDSN(pc))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := b.ping(ctx, "postgresql", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b.OnShutdown("postgres", func(context.Context) error { return db.Close() })
	b.Logger.Infow("PostgreSQL connected", "host", pc.Host, "database", pc.DBName)
	return db, nil
}

func (b *Base) OpenMongoDB(ctx context.Context) (*mongo.Client, error) {
	mc := b.Config.Database.MongoDB
	if !mc.Enabled() {
		return nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mc.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := b.ping(ctx, "mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	b.OnShutdown("mongodb", client.Disconnect)
	b.Logger.Info("MongoDB connected")
	return client, nil
}

// OpenNATS connects the push notification channel. It returns nil when no
// URL is configured. The connection is drained on Shutdown.
func (b *Base) OpenNATS() (*nats.Conn, error) {
	cfg := b.Config.NATS
	if !cfg.Enabled() {
		return nil, nil
	}

	name := cfg.Name
	if name == "" {
		name = "devpulse"
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(wait),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.Logger.Warnw("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.Logger.Infow("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b.OnShutdown("nats", func(context.Context) error { return drainNATS(nc) })
	b.Logger.Infow("NATS client started", "url", cfg.URL, "status", nc.Status().String())
	return nc, nil
}

func drainNATS(nc *nats.Conn) error {
	if nc.IsClosed() {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("nats drain error: %w", err)
	}
	return nil
}
