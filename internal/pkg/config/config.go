package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/samirrijal/voltmap/internal/core/locator"
	"github.com/samirrijal/voltmap/internal/core/usecases"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Log       LogConfig               `mapstructure:"log"`
	Database  DatabaseConfig          `mapstructure:"database"`
	NATS      NATSConfig              `mapstructure:"nats"`
	Valkey    ValkeyConfig            `mapstructure:"valkey"`
	Telemetry TelemetryConfig         `mapstructure:"telemetry"`
	Locator   locator.Config          `mapstructure:"locator"`
	Stations  usecases.StationConfig  `mapstructure:"stations"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Enabled      bool    `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: VOLTMAP_DATABASE_HOST → database.host
	v.SetEnvPrefix("VOLTMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "voltmap")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "voltmap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_endpoint", "tempo:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.enabled", true)

	loc := locator.DefaultConfig()
	v.SetDefault("locator.cluster.radius", loc.Cluster.Radius)
	v.SetDefault("locator.cluster.max_zoom", loc.Cluster.MaxZoom)
	v.SetDefault("locator.cluster.min_zoom", loc.Cluster.MinZoom)
	v.SetDefault("locator.cluster.min_points", loc.Cluster.MinPoints)
	v.SetDefault("locator.cluster.extent", loc.Cluster.Extent)
	v.SetDefault("locator.cluster.node_size", loc.Cluster.NodeSize)
	v.SetDefault("locator.max_regions", loc.MaxRegions)
	v.SetDefault("locator.overlap_threshold", loc.OverlapThreshold)
	v.SetDefault("locator.min_zoom", loc.MinZoom)
	v.SetDefault("locator.max_zoom", loc.MaxZoom)
	v.SetDefault("locator.initial_fetch_delay", loc.InitialFetchDelay)
	v.SetDefault("locator.completion_delay", loc.CompletionDelay)
	v.SetDefault("locator.progress_interval", loc.ProgressInterval)
	v.SetDefault("locator.fetch_timeout", loc.FetchTimeout)
	v.SetDefault("locator.session_idle_timeout", loc.IdleTimeout)

	st := usecases.DefaultStationConfig()
	v.SetDefault("stations.nearby_cache_ttl", st.NearbyCacheTTL)
	v.SetDefault("stations.details_cache_ttl", st.DetailsCacheTTL)
	v.SetDefault("stations.max_results", st.MaxResults)
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.sample_ratio must be 0-1, got %v", c.Telemetry.SampleRatio))
	}

	loc := c.Locator
	if loc.MaxRegions <= 0 {
		errs = append(errs, "locator.max_regions must be positive")
	}
	if loc.OverlapThreshold <= 0 || loc.OverlapThreshold > 100 {
		errs = append(errs, fmt.Sprintf("locator.overlap_threshold must be in (0, 100], got %v", loc.OverlapThreshold))
	}
	if loc.MinZoom < 0 || loc.MaxZoom < loc.MinZoom {
		errs = append(errs, fmt.Sprintf("locator zoom bounds invalid: [%v, %v]", loc.MinZoom, loc.MaxZoom))
	}
	if loc.Cluster.MaxZoom > 30 || loc.Cluster.MinZoom > loc.Cluster.MaxZoom {
		errs = append(errs, fmt.Sprintf("locator.cluster zooms invalid: min %d max %d", loc.Cluster.MinZoom, loc.Cluster.MaxZoom))
	}
	if loc.Cluster.Radius <= 0 {
		errs = append(errs, "locator.cluster.radius must be positive")
	}
	if c.Stations.MaxResults <= 0 {
		errs = append(errs, "stations.max_results must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
