package domain

import "time"

// Config holds the complete ReturnGuard configuration.
type Config struct {
	// Tier determines feature availability
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`
	Queue      QueueConfig      `mapstructure:"queue"`

	// Decision engine
	Engine EngineConfig `mapstructure:"engine"`

	// Collaborators
	Shipping ShippingConfig `mapstructure:"shipping"`
	Email    EmailConfig    `mapstructure:"email"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// EngineConfig holds decision engine settings.
type EngineConfig struct {
	// SnapshotTTL bounds how long a merchant's rules and fraud settings are cached.
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`

	// Merchants lists the merchants whose submissions are consumed from the bus.
	// Empty means the shared "_global" subscription.
	Merchants []string `mapstructure:"merchants"`
}

// QueueConfig holds asynq task queue settings.
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// ShippingConfig holds carrier API settings.
// An empty APIKey issues fixed test labels.
type ShippingConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// RequestsPerSecond caps calls to the carrier API.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Warehouse address labels are addressed to
	WarehouseName    string `mapstructure:"warehouse_name"`
	WarehouseStreet  string `mapstructure:"warehouse_street"`
	WarehouseCity    string `mapstructure:"warehouse_city"`
	WarehouseState   string `mapstructure:"warehouse_state"`
	WarehouseZip     string `mapstructure:"warehouse_zip"`
	WarehouseCountry string `mapstructure:"warehouse_country"`
}

// EmailConfig holds SMTP settings for return confirmations.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
	UseSSL   bool   `mapstructure:"use_ssl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Mode       string `mapstructure:"mode"` // debug, release
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP gRPC collector, host:port
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// MetricsConfig holds the Prometheus scrape listener settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./returnguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Queue: QueueConfig{
			Enabled:     false,
			Host:        "127.0.0.1",
			Port:        6379,
			DB:          1,
			Concurrency: 10,
			Queues:      map[string]int{"default": 1},
		},
		Engine: EngineConfig{
			SnapshotTTL: time.Minute,
		},
		Shipping: ShippingConfig{
			BaseURL:           "https://api.easypost.com/v2",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 2,
		},
		Email: EmailConfig{
			Port:   587,
			UseTLS: true,
		},
		Logging: LoggingConfig{
			Mode:     "release",
			Filename: "returnguard.log",
			Compress: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "returnguard",
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "returnguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Queue.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
