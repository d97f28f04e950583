package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig selects how samples reach the engine: pushed over the API,
// polled from an HTTP source, or consumed from a Kafka topic.
type TelemetryConfig struct {
	Mode                    string      `mapstructure:"mode"` // push, poll, kafka
	PollURL                 string      `mapstructure:"poll_url"`
	PollInterval            string      `mapstructure:"poll_interval"`
	ExpectedSampleInterval  string      `mapstructure:"expected_sample_interval"`
	Kafka                   KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig contains settings for the Kafka telemetry source
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// ForecastConfig contains settings for the external forecast provider
type ForecastConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Timeout string `mapstructure:"timeout"`
}

// EngineConfig contains settings for the alert engine itself
type EngineConfig struct {
	QuietHours            QuietHoursConfig `mapstructure:"quiet_hours"`
	Escalation            EscalationConfig `mapstructure:"escalation"`
	AutoResolve           bool             `mapstructure:"auto_resolve"`
	EscalationStep        int              `mapstructure:"escalation_severity_step"`
	DeliveryRetentionDays int              `mapstructure:"delivery_retention_days"`
}

// QuietHoursConfig defines a window during which non-critical notifications
// are queued instead of dispatched.
type QuietHoursConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Start    string `mapstructure:"start"`    // HH:MM
	End      string `mapstructure:"end"`      // HH:MM
	Timezone string `mapstructure:"timezone"` // IANA name; empty means server-local
}

// EscalationConfig controls re-dispatch of unacknowledged alerts
type EscalationConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	WaitMinutes int      `mapstructure:"wait_minutes"`
	Tiers       []string `mapstructure:"tiers"` // ordered mildest to most aggressive
}

// DispatchConfig controls the notification worker pool
type DispatchConfig struct {
	QueueSize      int    `mapstructure:"queue_size"`
	Workers        int    `mapstructure:"workers"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BackoffBase    string `mapstructure:"backoff_base"`
	OverflowPolicy string `mapstructure:"overflow_policy"` // drop_oldest, reject_new
	DrainTimeout   string `mapstructure:"drain_timeout"`
}

// ChannelsConfig carries per-channel transport settings. Credentials and
// transports are owned externally; the engine only needs endpoints.
type ChannelsConfig struct {
	Webhook ChannelEndpoint `mapstructure:"webhook"`
	Push    ChannelEndpoint `mapstructure:"push"`
	Email   ChannelEndpoint `mapstructure:"email"`
	SMS     ChannelEndpoint `mapstructure:"sms"`
	Voice   ChannelEndpoint `mapstructure:"voice"`
}

// ChannelEndpoint describes a single notification gateway
type ChannelEndpoint struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	Token     string `mapstructure:"token"`
	Recipient string `mapstructure:"recipient"`
	Timeout   string `mapstructure:"timeout"`
}

type WebSocketConfig struct {
	PingInterval int `mapstructure:"ping_interval"`
	PongTimeout  int `mapstructure:"pong_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// Load reads configuration from config.yaml and the environment
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()

	// Override specific values from env
	viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("telemetry.poll_url", "TELEMETRY_POLL_URL")
	viper.BindEnv("telemetry.kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("forecast.url", "FORECAST_URL")
	viper.BindEnv("channels.webhook.url", "WEBHOOK_URL")
	viper.BindEnv("channels.push.token", "PUSH_TOKEN")
	viper.BindEnv("channels.sms.token", "SMS_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and env cover everything
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// PollIntervalDuration parses the telemetry poll interval with a fallback
func (c TelemetryConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, time.Minute)
}

// ExpectedSampleIntervalDuration parses the expected sampling interval.
// Gaps larger than twice this reset sustained-condition windows.
func (c TelemetryConfig) ExpectedSampleIntervalDuration() time.Duration {
	return parseDurationOr(c.ExpectedSampleInterval, time.Minute)
}

// TimeoutDuration parses the forecast request timeout
func (c ForecastConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

// BackoffBaseDuration parses the dispatch retry backoff base
func (c DispatchConfig) BackoffBaseDuration() time.Duration {
	return parseDurationOr(c.BackoffBase, time.Second)
}

// DrainTimeoutDuration parses the shutdown drain grace period
func (c DispatchConfig) DrainTimeoutDuration() time.Duration {
	return parseDurationOr(c.DrainTimeout, 10*time.Second)
}

// TimeoutDuration parses the channel request timeout
func (c ChannelEndpoint) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func setDefaults() {
	viper.SetDefault("server.port", 3100)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")

	viper.SetDefault("database.path", "./data/sunwatch.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 10)

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.jwt_secret", "change-me")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("telemetry.mode", "push")
	viper.SetDefault("telemetry.poll_interval", "1m")
	viper.SetDefault("telemetry.expected_sample_interval", "1m")
	viper.SetDefault("telemetry.kafka.topic", "telemetry.samples")
	viper.SetDefault("telemetry.kafka.group_id", "sunwatch-engine")

	viper.SetDefault("forecast.enabled", false)
	viper.SetDefault("forecast.timeout", "10s")

	viper.SetDefault("engine.auto_resolve", true)
	viper.SetDefault("engine.escalation_severity_step", 1)
	viper.SetDefault("engine.delivery_retention_days", 90)
	viper.SetDefault("engine.quiet_hours.enabled", false)
	viper.SetDefault("engine.quiet_hours.start", "22:00")
	viper.SetDefault("engine.quiet_hours.end", "07:00")
	viper.SetDefault("engine.quiet_hours.timezone", "")
	viper.SetDefault("engine.escalation.enabled", true)
	viper.SetDefault("engine.escalation.wait_minutes", 30)
	viper.SetDefault("engine.escalation.tiers", []string{"push", "email", "sms", "voice"})

	viper.SetDefault("dispatch.queue_size", 256)
	viper.SetDefault("dispatch.workers", 4)
	viper.SetDefault("dispatch.max_attempts", 3)
	viper.SetDefault("dispatch.backoff_base", "1s")
	viper.SetDefault("dispatch.overflow_policy", "drop_oldest")
	viper.SetDefault("dispatch.drain_timeout", "10s")

	viper.SetDefault("websocket.ping_interval", 30)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)
}
