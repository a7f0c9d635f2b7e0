// Package config loads ReturnGuard configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RETURNGUARD_REPOSITORY_DRIVER.
const EnvPrefix = "RETURNGUARD"

// Load reads configuration. Defaults come from the tier selected by
// RETURNGUARD_TIER, then the YAML file at path (optional), then environment.
// A config file that exists but cannot be read or parsed is an error.
func Load(path string) (*domain.Config, error) {
	base := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"_TIER"), string(domain.TierPro)) {
		base = domain.ProConfig()
	}

	v := viper.New()
	setDefaults(v, base)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("returnguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./etc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			file := path
			if file == "" {
				file = v.ConfigFileUsed()
			}
			logger.Warnw("config_file_read_failed", "file", file, "error", err)
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		logger.Debugw("config_file_not_loaded", "error", err, "fallback", "env_or_defaults")
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("eventbus.type", c.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)

	v.SetDefault("queue.enabled", c.Queue.Enabled)
	v.SetDefault("queue.host", c.Queue.Host)
	v.SetDefault("queue.port", c.Queue.Port)
	v.SetDefault("queue.password", c.Queue.Password)
	v.SetDefault("queue.db", c.Queue.DB)
	v.SetDefault("queue.concurrency", c.Queue.Concurrency)
	v.SetDefault("queue.queues", c.Queue.Queues)

	v.SetDefault("engine.snapshot_ttl", c.Engine.SnapshotTTL)
	v.SetDefault("engine.merchants", c.Engine.Merchants)

	v.SetDefault("shipping.api_key", c.Shipping.APIKey)
	v.SetDefault("shipping.base_url", c.Shipping.BaseURL)
	v.SetDefault("shipping.timeout", c.Shipping.Timeout)
	v.SetDefault("shipping.requests_per_second", c.Shipping.RequestsPerSecond)
	v.SetDefault("shipping.warehouse_name", c.Shipping.WarehouseName)
	v.SetDefault("shipping.warehouse_street", c.Shipping.WarehouseStreet)
	v.SetDefault("shipping.warehouse_city", c.Shipping.WarehouseCity)
	v.SetDefault("shipping.warehouse_state", c.Shipping.WarehouseState)
	v.SetDefault("shipping.warehouse_zip", c.Shipping.WarehouseZip)
	v.SetDefault("shipping.warehouse_country", c.Shipping.WarehouseCountry)

	v.SetDefault("email.enabled", c.Email.Enabled)
	v.SetDefault("email.host", c.Email.Host)
	v.SetDefault("email.port", c.Email.Port)
	v.SetDefault("email.username", c.Email.Username)
	v.SetDefault("email.password", c.Email.Password)
	v.SetDefault("email.from", c.Email.From)
	v.SetDefault("email.from_name", c.Email.FromName)
	v.SetDefault("email.use_tls", c.Email.UseTLS)
	v.SetDefault("email.use_ssl", c.Email.UseSSL)

	v.SetDefault("logging.mode", c.Logging.Mode)
	v.SetDefault("logging.dir", c.Logging.Dir)
	v.SetDefault("logging.filename", c.Logging.Filename)
	v.SetDefault("logging.max_size_mb", c.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", c.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", c.Logging.Compress)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", c.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", c.Tracing.SampleRate)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.host", c.Metrics.Host)
	v.SetDefault("metrics.port", c.Metrics.Port)
	v.SetDefault("metrics.path", c.Metrics.Path)
}
