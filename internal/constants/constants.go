package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	ServiceName = "pipeline-service"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultMongoDBName = "devpulse"
)

const (
	HeaderRequestID       = "X-Request-ID"
	HeaderRetryAfter      = "Retry-After"
	HeaderSignature       = "X-Devpulse-Signature"
	HeaderDelivery        = "X-Devpulse-Delivery"
	HeaderEvent           = "X-Devpulse-Event"
	HeaderDeliveryAttempt = "X-Devpulse-Attempt"
)

const (
	ProviderGitHub     = "github"
	ProviderGitLab     = "gitlab"
	ProviderBitbucket  = "bitbucket"
	ProviderTerraform  = "terraform"
	ProviderKubernetes = "kubernetes"
	ProviderCost       = "cost"
)

const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
	SourceConfig    = "config"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
