package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("database.run_migrations", true)

	viper.SetDefault("broker.kafka.group_id", "devpulse")
	viper.SetDefault("broker.kafka.events_topic", "devpulse.events")
	viper.SetDefault("broker.kafka.rule_update_topic", "devpulse.rule-updates")
	viper.SetDefault("broker.kafka.dlq_topic", "devpulse.dead-letters")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", "500ms")
	viper.SetDefault("broker.kafka.retry.max_interval", "10s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("nats.name", "devpulse")
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", "2s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("webhooks.max_body_bytes", 1<<20)

	viper.SetDefault("admission.backend", "redis")
	viper.SetDefault("admission.retention", "24h")
	viper.SetDefault("admission.key_prefix", "admit:")
	viper.SetDefault("admission.sweep_interval", "1m")
	viper.SetDefault("admission.metrics_interval", "30s")

	viper.SetDefault("router.queue_capacity", 256)
	viper.SetDefault("router.lane_capacity", 1024)
	viper.SetDefault("router.enqueue_timeout", "250ms")
	viper.SetDefault("router.idle_timeout", "5m")
	viper.SetDefault("router.checkpoint_backend", "redis")
	viper.SetDefault("router.checkpoint_key", "router:hwm")

	viper.SetDefault("hub.buffer_size", 256)
	viper.SetDefault("hub.lag_threshold", 192)
	viper.SetDefault("hub.lag_window", "10s")
	viper.SetDefault("hub.check_interval", "1s")
	viper.SetDefault("hub.write_timeout", "10s")
	viper.SetDefault("hub.ping_interval", "30s")
	viper.SetDefault("hub.read_limit", 64*1024)

	viper.SetDefault("alerting.enabled", true)
	viper.SetDefault("alerting.source", "postgres")
	viper.SetDefault("alerting.reload_interval", "30s")
	viper.SetDefault("alerting.reload_jitter", "2s")
	viper.SetDefault("alerting.cooldown_backend", "redis")
	viper.SetDefault("alerting.dispatch_retry.max_attempts", 3)
	viper.SetDefault("alerting.dispatch_retry.initial_interval", "100ms")
	viper.SetDefault("alerting.dispatch_retry.max_interval", "1s")
	viper.SetDefault("alerting.dispatch_retry.multiplier", 2.0)

	viper.SetDefault("dispatcher.workers", 8)
	viper.SetDefault("dispatcher.queue_size", 1024)
	viper.SetDefault("dispatcher.max_attempts", 6)
	viper.SetDefault("dispatcher.send_timeout", "10s")
	viper.SetDefault("dispatcher.backoff.base", "1s")
	viper.SetDefault("dispatcher.backoff.multiplier", 2.0)
	viper.SetDefault("dispatcher.backoff.cap", "5m")
	viper.SetDefault("dispatcher.backoff.jitter", 0.2)
	viper.SetDefault("dispatcher.channels.push.subject_prefix", "devpulse.notify")
	viper.SetDefault("dispatcher.channels.email.port", 587)

	viper.SetDefault("audit.backend", "postgres")
	viper.SetDefault("audit.default_limit", 100)
	viper.SetDefault("audit.max_limit", 1000)
	viper.SetDefault("audit.collection", "audit_records")

	viper.SetDefault("rate_limit.rps", 50.0)
	viper.SetDefault("rate_limit.burst", 100)
	viper.SetDefault("rate_limit.cleanup_interval", 60)
	viper.SetDefault("rate_limit.max_age", 300)

	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("circuit_breaker.min_requests", 3)

	viper.SetDefault("tracing.service_name", "pipeline-service")
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.enabled", "BROKER_KAFKA_ENABLED")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.events_topic", "BROKER_KAFKA_EVENTS_TOPIC")
	viper.BindEnv("broker.kafka.rule_update_topic", "BROKER_KAFKA_RULE_UPDATE_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("nats.url", "NATS_URL")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("admission.retention", "ADMISSION_RETENTION")
	viper.BindEnv("router.queue_capacity", "ROUTER_QUEUE_CAPACITY")
	viper.BindEnv("hub.lag_threshold", "HUB_LAG_THRESHOLD")
	viper.BindEnv("dispatcher.max_attempts", "DISPATCHER_MAX_ATTEMPTS")
	viper.BindEnv("dispatcher.channels.webhook.signing_secret", "DISPATCHER_CHANNELS_WEBHOOK_SIGNING_SECRET")
	viper.BindEnv("dispatcher.channels.email.password", "DISPATCHER_CHANNELS_EMAIL_PASSWORD")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// knownProviders are checked for WEBHOOKS_PROVIDERS_<NAME>_SECRETS even when
// the config file does not mention them.
var knownProviders = []string{"github", "gitlab", "bitbucket", "terraform", "kubernetes", "cost"}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv); len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	if cfg.Webhooks.Providers == nil {
		cfg.Webhooks.Providers = make(map[string]ProviderConfig)
	}

	names := make(map[string]struct{}, len(knownProviders)+len(cfg.Webhooks.Providers))
	for _, name := range knownProviders {
		names[name] = struct{}{}
	}
	for name := range cfg.Webhooks.Providers {
		names[name] = struct{}{}
	}

	for name := range names {
		env := "WEBHOOKS_PROVIDERS_" + strings.ToUpper(name) + "_SECRETS"
		raw := viper.GetString(env)
		if raw == "" {
			continue
		}
		provider := cfg.Webhooks.Providers[name]
		provider.Secrets = splitList(raw)
		cfg.Webhooks.Providers[name] = provider
	}

	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
