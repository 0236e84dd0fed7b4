package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	NATS           NATSConfig           `mapstructure:"nats"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Webhooks       WebhooksConfig       `mapstructure:"webhooks"`
	Admission      AdmissionConfig      `mapstructure:"admission"`
	Router         RouterConfig         `mapstructure:"router"`
	Hub            HubConfig            `mapstructure:"hub"`
	Alerting       AlertingConfig       `mapstructure:"alerting"`
	Dispatcher     DispatcherConfig     `mapstructure:"dispatcher"`
	Audit          AuditConfig          `mapstructure:"audit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableSwagger   bool          `mapstructure:"enable_swagger"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

func (c MongoDBConfig) Enabled() bool {
	return c.URI != ""
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled         bool        `mapstructure:"enabled"`
	Brokers         []string    `mapstructure:"brokers"`
	GroupID         string      `mapstructure:"group_id"`
	EventsTopic     string      `mapstructure:"events_topic"`
	RuleUpdateTopic string      `mapstructure:"rule_update_topic"`
	DLQTopic        string      `mapstructure:"dlq_topic"`
	Retry           RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebhooksConfig struct {
	MaxBodyBytes int64                     `mapstructure:"max_body_bytes"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig overrides the built-in template of a provider. Secrets holds
// every currently valid shared secret so rotations can overlap.
type ProviderConfig struct {
	Secrets         []string `mapstructure:"secrets"`
	Scheme          string   `mapstructure:"scheme"`
	SignatureHeader string   `mapstructure:"signature_header"`
	DeliveryHeader  string   `mapstructure:"delivery_header"`
}

type AdmissionConfig struct {
	Backend         string        `mapstructure:"backend"`
	Retention       time.Duration `mapstructure:"retention"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

type RouterConfig struct {
	QueueCapacity     int           `mapstructure:"queue_capacity"`
	LaneCapacity      int           `mapstructure:"lane_capacity"`
	EnqueueTimeout    time.Duration `mapstructure:"enqueue_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	CheckpointBackend string        `mapstructure:"checkpoint_backend"`
	CheckpointKey     string        `mapstructure:"checkpoint_key"`
	PublishToKafka    bool          `mapstructure:"publish_to_kafka"`
}

type HubConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	LagThreshold   int           `mapstructure:"lag_threshold"`
	LagWindow      time.Duration `mapstructure:"lag_window"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type AlertingConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	Source          string            `mapstructure:"source"`
	ReloadInterval  time.Duration     `mapstructure:"reload_interval"`
	ReloadJitter    time.Duration     `mapstructure:"reload_jitter"`
	CooldownBackend string            `mapstructure:"cooldown_backend"`
	DispatchRetry   RetryConfig       `mapstructure:"dispatch_retry"`
	Rules           []AlertRuleConfig `mapstructure:"rules"`
}

// AlertRuleConfig declares a rule inline for deployments without a rule database.
type AlertRuleConfig struct {
	ID            string         `mapstructure:"id"`
	Name          string         `mapstructure:"name"`
	EntityPattern string         `mapstructure:"entity_pattern"`
	EventTypes    []string       `mapstructure:"event_types"`
	Expression    string         `mapstructure:"expression"`
	Severity      string         `mapstructure:"severity"`
	Cooldown      time.Duration  `mapstructure:"cooldown"`
	Targets       []TargetConfig `mapstructure:"targets"`
}

type TargetConfig struct {
	Channel     string `mapstructure:"channel"`
	Destination string `mapstructure:"destination"`
}

type DispatcherConfig struct {
	Workers     int            `mapstructure:"workers"`
	QueueSize   int            `mapstructure:"queue_size"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	SendTimeout time.Duration  `mapstructure:"send_timeout"`
	Backoff     BackoffConfig  `mapstructure:"backoff"`
	Channels    ChannelsConfig `mapstructure:"channels"`
	Forwarding  []ForwardRoute `mapstructure:"forwarding"`
}

// ForwardRoute sends every matching canonical event to its targets without an
// alert rule in between.
type ForwardRoute struct {
	Name          string         `mapstructure:"name"`
	EntityPattern string         `mapstructure:"entity_pattern"`
	EventTypes    []string       `mapstructure:"event_types"`
	Targets       []TargetConfig `mapstructure:"targets"`
}

type BackoffConfig struct {
	Base       time.Duration `mapstructure:"base"`
	Multiplier float64       `mapstructure:"multiplier"`
	Cap        time.Duration `mapstructure:"cap"`
	Jitter     float64       `mapstructure:"jitter"`
}

type ChannelsConfig struct {
	Webhook WebhookChannelConfig `mapstructure:"webhook"`
	Slack   SlackChannelConfig   `mapstructure:"slack"`
	Email   EmailChannelConfig   `mapstructure:"email"`
	Push    PushChannelConfig    `mapstructure:"push"`
	Kafka   KafkaChannelConfig   `mapstructure:"kafka"`
}

type WebhookChannelConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
}

type SlackChannelConfig struct {
	Username string `mapstructure:"username"`
}

type EmailChannelConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type PushChannelConfig struct {
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type KafkaChannelConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type AuditConfig struct {
	Backend      string `mapstructure:"backend"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
	Collection   string `mapstructure:"collection"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
