package config

import (
	"fmt"
	"strings"

	"devpulse/pkg/cel"
	"devpulse/pkg/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateLogging(c.Logging) },
		func(c *Config) error { return validateDatabase(c.Database) },
		func(c *Config) error { return validateKafka(c.Broker.Kafka) },
		func(c *Config) error { return validateWebhooks(c.Webhooks) },
		validateAdmission,
		validateRouter,
		func(c *Config) error { return validateHub(c.Hub) },
		validateAlerting,
		func(c *Config) error { return validateDispatcher(c.Dispatcher) },
		validateAudit,
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q (debug, info, warn, error)", cfg.Level),
		}
	}
	switch cfg.Format {
	case "", "json", "console":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q (json, console)", cfg.Format),
		}
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateWebhooks(cfg WebhooksConfig) error {
	if cfg.MaxBodyBytes <= 0 {
		return &ValidationError{
			Field:   "webhooks.max_body_bytes",
			Message: "body size cap must be positive",
		}
	}

	validSchemes := map[string]bool{
		"": true, "hmac-sha256-hex": true, "hmac-sha256-base64": true,
		"hmac-sha512-hex": true, "hmac-sha1-hex": true, "token": true,
	}

	for name, provider := range cfg.Providers {
		if !validSchemes[provider.Scheme] {
			return &ValidationError{
				Field:   fmt.Sprintf("webhooks.providers.%s.scheme", name),
				Message: fmt.Sprintf("unknown signature scheme: %s", provider.Scheme),
			}
		}
		for i, secret := range provider.Secrets {
			if secret == "" {
				return &ValidationError{
					Field:   fmt.Sprintf("webhooks.providers.%s.secrets[%d]", name, i),
					Message: "secret cannot be empty",
				}
			}
		}
	}

	return nil
}

func validateAdmission(cfg *Config) error {
	switch cfg.Admission.Backend {
	case "memory":
	case "redis":
		if !cfg.Database.Redis.Enabled() {
			return &ValidationError{
				Field:   "admission.backend",
				Message: "redis admission backend requires database.redis",
			}
		}
	default:
		return &ValidationError{
			Field:   "admission.backend",
			Message: fmt.Sprintf("unknown admission backend: %s (supported: redis, memory)", cfg.Admission.Backend),
		}
	}

	if cfg.Admission.Retention <= 0 {
		return &ValidationError{
			Field:   "admission.retention",
			Message: "retention horizon must be positive",
		}
	}

	if cfg.Admission.SweepInterval <= 0 {
		return &ValidationError{
			Field:   "admission.sweep_interval",
			Message: "sweep interval must be positive",
		}
	}

	return nil
}

func validateRouter(cfg *Config) error {
	r := cfg.Router

	if r.QueueCapacity < 1 {
		return &ValidationError{
			Field:   "router.queue_capacity",
			Message: "queue capacity must be at least 1",
		}
	}

	if r.LaneCapacity < 1 {
		return &ValidationError{
			Field:   "router.lane_capacity",
			Message: "lane capacity must be at least 1",
		}
	}

	if r.EnqueueTimeout < 0 {
		return &ValidationError{
			Field:   "router.enqueue_timeout",
			Message: "enqueue timeout must be non-negative",
		}
	}

	switch r.CheckpointBackend {
	case "memory":
	case "redis":
		if !cfg.Database.Redis.Enabled() {
			return &ValidationError{
				Field:   "router.checkpoint_backend",
				Message: "redis checkpoint backend requires database.redis",
			}
		}
	default:
		return &ValidationError{
			Field:   "router.checkpoint_backend",
			Message: fmt.Sprintf("unknown checkpoint backend: %s (supported: redis, memory)", r.CheckpointBackend),
		}
	}

	if r.PublishToKafka && !cfg.Broker.Kafka.Enabled {
		return &ValidationError{
			Field:   "router.publish_to_kafka",
			Message: "publishing the event stream requires broker.kafka.enabled",
		}
	}

	return nil
}

func validateHub(cfg HubConfig) error {
	if cfg.BufferSize < 1 {
		return &ValidationError{
			Field:   "hub.buffer_size",
			Message: "buffer size must be at least 1",
		}
	}

	if cfg.LagThreshold < 1 || cfg.LagThreshold > cfg.BufferSize {
		return &ValidationError{
			Field:   "hub.lag_threshold",
			Message: fmt.Sprintf("lag threshold must be between 1 and buffer_size (%d), got %d", cfg.BufferSize, cfg.LagThreshold),
		}
	}

	if cfg.LagWindow <= 0 {
		return &ValidationError{
			Field:   "hub.lag_window",
			Message: "lag window must be positive",
		}
	}

	return nil
}

func validateAlerting(cfg *Config) error {
	a := cfg.Alerting
	if !a.Enabled {
		return nil
	}

	switch a.Source {
	case "config":
	case "postgres":
		if !cfg.Database.Postgres.Enabled() {
			return &ValidationError{
				Field:   "alerting.source",
				Message: "postgres rule source requires database.postgres",
			}
		}
	default:
		return &ValidationError{
			Field:   "alerting.source",
			Message: fmt.Sprintf("unknown rule source: %s (supported: postgres, config)", a.Source),
		}
	}

	switch a.CooldownBackend {
	case "memory":
	case "redis":
		if !cfg.Database.Redis.Enabled() {
			return &ValidationError{
				Field:   "alerting.cooldown_backend",
				Message: "redis cooldown backend requires database.redis",
			}
		}
	default:
		return &ValidationError{
			Field:   "alerting.cooldown_backend",
			Message: fmt.Sprintf("unknown cooldown backend: %s (supported: redis, memory)", a.CooldownBackend),
		}
	}

	for i, rule := range a.Rules {
		if rule.ID == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("alerting.rules[%d].id", i),
				Message: "rule id is required",
			}
		}
		if rule.Cooldown < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("alerting.rules[%d].cooldown", i),
				Message: "cooldown must be non-negative",
			}
		}
	}

	var evaluator *cel.Evaluator
	for i, rule := range a.Rules {
		if rule.Expression == "" {
			continue
		}
		if evaluator == nil {
			var err error
			if evaluator, err = cel.NewEvaluator(); err != nil {
				return err
			}
		}
		if err := evaluator.ValidateExpression(rule.Expression); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("alerting.rules[%d].expression", i),
				Message: err.Error(),
			}
		}
	}

	return nil
}

func validateDispatcher(cfg DispatcherConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{
			Field:   "dispatcher.workers",
			Message: "at least one worker is required",
		}
	}

	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "dispatcher.max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	b := cfg.Backoff
	if b.Base <= 0 {
		return &ValidationError{
			Field:   "dispatcher.backoff.base",
			Message: "base delay must be positive",
		}
	}

	if b.Multiplier < 1 {
		return &ValidationError{
			Field:   "dispatcher.backoff.multiplier",
			Message: "multiplier must be at least 1",
		}
	}

	if b.Cap < b.Base {
		return &ValidationError{
			Field:   "dispatcher.backoff.cap",
			Message: "cap must be greater than or equal to base",
		}
	}

	if b.Jitter < 0 || b.Jitter >= 1 {
		return &ValidationError{
			Field:   "dispatcher.backoff.jitter",
			Message: "jitter must be in [0, 1)",
		}
	}

	for i, route := range cfg.Forwarding {
		if route.EntityPattern != "" {
			if _, err := models.CompileEntityGlob(route.EntityPattern); err != nil {
				return &ValidationError{
					Field:   fmt.Sprintf("dispatcher.forwarding[%d].entity_pattern", i),
					Message: fmt.Sprintf("invalid glob %q", route.EntityPattern),
				}
			}
		}
		if len(route.Targets) == 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("dispatcher.forwarding[%d].targets", i),
				Message: "at least one target is required",
			}
		}
	}

	return nil
}

func validateAudit(cfg *Config) error {
	switch cfg.Audit.Backend {
	case "memory":
	case "postgres":
		if !cfg.Database.Postgres.Enabled() {
			return &ValidationError{
				Field:   "audit.backend",
				Message: "postgres audit backend requires database.postgres",
			}
		}
	case "mongodb":
		if !cfg.Database.MongoDB.Enabled() {
			return &ValidationError{
				Field:   "audit.backend",
				Message: "mongodb audit backend requires database.mongodb",
			}
		}
	default:
		return &ValidationError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("unknown audit backend: %s (supported: postgres, mongodb, memory)", cfg.Audit.Backend),
		}
	}

	if cfg.Audit.MaxLimit < cfg.Audit.DefaultLimit {
		return &ValidationError{
			Field:   "audit.max_limit",
			Message: "max_limit must be greater than or equal to default_limit",
		}
	}

	return nil
}
