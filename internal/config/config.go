package config

import "time"

// Config represents the top-level service configuration.
type Config struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	LinkedIn   LinkedInConfig   `yaml:"linkedin"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// PostgresConfig holds the database connection settings.
type PostgresConfig struct {
	// DSN is the connection string. Pool sizing rides on DSN parameters.
	DSN string `yaml:"dsn"`
	// MigrationsPath points at the golang-migrate source directory.
	MigrationsPath string `yaml:"migrations_path,omitempty"`
}

// KafkaConfig holds the event bus settings. An empty broker list disables
// Kafka and routes events through the in-memory bus.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers,omitempty"`
	PostEventsTopic string   `yaml:"post_events_topic,omitempty"`
	GroupID         string   `yaml:"group_id,omitempty"`
	ClientID        string   `yaml:"client_id,omitempty"`
}

// LinkedInConfig holds publish-side settings.
type LinkedInConfig struct {
	// BaseURL overrides the API host, used in development against a stub.
	BaseURL string `yaml:"base_url,omitempty"`
	// PublishTimeout bounds a single publish attempt.
	PublishTimeout time.Duration `yaml:"publish_timeout,omitempty"`
	// Accounts seeds the credential store. Production deployments resolve
	// credentials through the account service instead.
	Accounts []AccountCredential `yaml:"accounts,omitempty"`
}

// AccountCredential maps an owner account to its publish credential.
type AccountCredential struct {
	OwnerID     string    `yaml:"owner_id"`
	AccessToken string    `yaml:"access_token"`
	MemberID    string    `yaml:"member_id"`
	ExpiresAt   time.Time `yaml:"expires_at,omitempty"`
}

// GeminiConfig holds scoring-side settings.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// SchedulerConfig tunes the scheduling engine's polling loop.
type SchedulerConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval,omitempty"`
	BatchSize          int           `yaml:"batch_size,omitempty"`
	MaxConcurrentFires int           `yaml:"max_concurrent_fires,omitempty"`
}

// EnrichmentConfig tunes the background scoring runner.
type EnrichmentConfig struct {
	Workers      int           `yaml:"workers,omitempty"`
	QueueSize    int           `yaml:"queue_size,omitempty"`
	ScoreTimeout time.Duration `yaml:"score_timeout,omitempty"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the collector address; empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}
