// Package conf loads and validates coldwatch configuration.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/coldwatch/coldwatch/internal/errors"
)

// EnvPrefix is prepended to every environment override (COLDWATCH_LOG_LEVEL, ...).
const EnvPrefix = "COLDWATCH"

// Recovery policies for open tickets.
const (
	RecoveryImmediate = "immediate"
	RecoveryClearance = "clearance"
)

// Transport kinds.
const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
)

// Settings is the root configuration.
type Settings struct {
	Log            LogSettings            `mapstructure:"log" yaml:"log"`
	Database       DatabaseSettings       `mapstructure:"database" yaml:"database"`
	Transport      TransportSettings      `mapstructure:"transport" yaml:"transport"`
	Classification ClassificationSettings `mapstructure:"classification" yaml:"classification"`
	Alerting       AlertingSettings       `mapstructure:"alerting" yaml:"alerting"`
	Notification   NotificationSettings   `mapstructure:"notification" yaml:"notification"`
	Commands       CommandsSettings       `mapstructure:"commands" yaml:"commands"`
	API            APISettings            `mapstructure:"api" yaml:"api"`
	Sentry         SentrySettings         `mapstructure:"sentry" yaml:"sentry"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DatabaseSettings selects the storage backend. Type is "sqlite" or "mysql".
type DatabaseSettings struct {
	Type string `mapstructure:"type" yaml:"type"`
	Path string `mapstructure:"path" yaml:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

type TransportSettings struct {
	Kind                 string        `mapstructure:"kind" yaml:"kind"`
	ReconnectDelay       Duration      `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	QueueSize            int           `mapstructure:"queue_size" yaml:"queue_size"`
	// PushTimeout bounds how long a transport callback waits for queue space.
	PushTimeout          Duration      `mapstructure:"push_timeout" yaml:"push_timeout"`
	MQTT                 MQTTSettings  `mapstructure:"mqtt" yaml:"mqtt"`
	Kafka                KafkaSettings `mapstructure:"kafka" yaml:"kafka"`
}

type MQTTSettings struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	Topic          string   `mapstructure:"topic" yaml:"topic"`
	QoS            byte     `mapstructure:"qos" yaml:"qos"`
	ClientID       string   `mapstructure:"client_id" yaml:"client_id"`
	Username       string   `mapstructure:"username" yaml:"username"`
	Password       string   `mapstructure:"password" yaml:"password"`
	ConnectTimeout Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// BrokerURL returns the tcp:// URL of the configured broker.
func (m MQTTSettings) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port)
}

type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
	GroupID string   `mapstructure:"group_id" yaml:"group_id"`
}

// ClassificationSettings holds the margin and the bounds given to
// auto-provisioned devices.
type ClassificationSettings struct {
	Margin         float64 `mapstructure:"margin" yaml:"margin"`
	DefaultMinTemp float64 `mapstructure:"default_min_temp" yaml:"default_min_temp"`
	DefaultMaxTemp float64 `mapstructure:"default_max_temp" yaml:"default_max_temp"`
}

type AlertingSettings struct {
	EscalationRoles         []string          `mapstructure:"escalation_roles" yaml:"escalation_roles"`
	AttemptThreshold        int               `mapstructure:"attempt_threshold" yaml:"attempt_threshold"`
	ReminderTick            Duration          `mapstructure:"reminder_tick" yaml:"reminder_tick"`
	ReminderIntervalMinutes int               `mapstructure:"reminder_interval_minutes" yaml:"reminder_interval_minutes"`
	RecoveryPolicy          string            `mapstructure:"recovery_policy" yaml:"recovery_policy"`
	ClearanceWindow         Duration          `mapstructure:"clearance_window" yaml:"clearance_window"`
	HistoryRetentionDays    int               `mapstructure:"history_retention_days" yaml:"history_retention_days"`
	Templates               map[string]string `mapstructure:"templates" yaml:"templates"`
}

type NotificationSettings struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken      string `mapstructure:"bot_token" yaml:"bot_token"`
	PrimaryChatID string `mapstructure:"primary_chat_id" yaml:"primary_chat_id"`
	// RoleDestinations maps an upper-case role name to a chat id or a
	// shoutrrr service URL.
	RoleDestinations map[string]string `mapstructure:"role_destinations" yaml:"role_destinations"`
	Timeout          Duration          `mapstructure:"timeout" yaml:"timeout"`
	RatePerSecond    float64           `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst            int               `mapstructure:"burst" yaml:"burst"`
}

type CommandsSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout int    `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	APIBase     string `mapstructure:"api_base" yaml:"api_base"`
}

type APISettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// DefaultEscalationRoles is the ladder used when none is configured.
var DefaultEscalationRoles = []string{"SITE_PHARMA_MANAGER", "TECHNICAL_MANAGER", "PROCUREMENT_MANAGER"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "coldwatch.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("transport.kind", TransportMQTT)
	v.SetDefault("transport.reconnect_delay", "3s")
	v.SetDefault("transport.max_reconnect_attempts", 0)
	v.SetDefault("transport.queue_size", 1000)
	v.SetDefault("transport.push_timeout", "5s")
	v.SetDefault("transport.mqtt.port", 1883)
	v.SetDefault("transport.mqtt.topic", "coldchain/+/telemetry")
	v.SetDefault("transport.mqtt.qos", 1)
	v.SetDefault("transport.mqtt.client_id", "coldwatch")
	v.SetDefault("transport.mqtt.username", "")
	v.SetDefault("transport.mqtt.password", "")
	v.SetDefault("transport.mqtt.connect_timeout", "10s")
	v.SetDefault("transport.kafka.brokers", []string{})
	v.SetDefault("transport.kafka.topic", "coldchain.telemetry")
	v.SetDefault("transport.kafka.group_id", "coldwatch")

	v.SetDefault("classification.margin", 5.0)
	v.SetDefault("classification.default_min_temp", 5.0)
	v.SetDefault("classification.default_max_temp", 25.0)

	v.SetDefault("alerting.escalation_roles", DefaultEscalationRoles)
	v.SetDefault("alerting.attempt_threshold", 4)
	v.SetDefault("alerting.reminder_tick", "60s")
	v.SetDefault("alerting.reminder_interval_minutes", 30)
	v.SetDefault("alerting.recovery_policy", RecoveryImmediate)
	v.SetDefault("alerting.clearance_window", "10m")
	v.SetDefault("alerting.history_retention_days", 30)
	v.SetDefault("alerting.templates", map[string]string{})

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.bot_token", "")
	v.SetDefault("notification.primary_chat_id", "")
	v.SetDefault("notification.role_destinations", map[string]string{})
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.rate_per_second", 20.0)
	v.SetDefault("notification.burst", 5)

	v.SetDefault("commands.enabled", false)
	v.SetDefault("commands.poll_timeout", 50)
	v.SetDefault("commands.api_base", "https://api.telegram.org")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8080")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

// legacyEnv binds the variable names used by existing deployments. The
// prefixed COLDWATCH_ name is listed first so it wins when both are set.
var legacyEnv = map[string]string{
	"transport.mqtt.host":          "MQTT_HOST",
	"transport.mqtt.port":          "MQTT_PORT",
	"transport.mqtt.topic":         "MQTT_TOPIC",
	"notification.enabled":         "TELEGRAM_ENABLED",
	"notification.bot_token":       "TELEGRAM_BOT_TOKEN",
	"notification.primary_chat_id": "TELEGRAM_CHAT_ID",
}

// Load reads configuration from defaults, the optional YAML file at path and
// the environment, then validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, errors.Config("bind env "+legacy, err)
		}
	}
	if err := v.BindEnv("legacy.role_chat_ids", "ROLE_CHAT_IDS"); err != nil {
		return nil, errors.Config("bind env ROLE_CHAT_IDS", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Config("read config file", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Config("decode config", err)
	}

	settings.Alerting.EscalationRoles = normalizeRoles(settings.Alerting.EscalationRoles)
	destinations, err := resolveRoleDestinations(v, settings)
	if err != nil {
		return nil, err
	}
	settings.Notification.RoleDestinations = destinations

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// resolveRoleDestinations merges role_destinations, TG_<ROLE> variables and
// ROLE_CHAT_IDS, in increasing precedence.
func resolveRoleDestinations(v *viper.Viper, s *Settings) (map[string]string, error) {
	out := make(map[string]string, len(s.Alerting.EscalationRoles))
	for role, dest := range s.Notification.RoleDestinations {
		if dest = strings.TrimSpace(dest); dest != "" && dest != "0" {
			// Viper lower-cases map keys read from files.
			out[strings.ToUpper(role)] = dest
		}
	}
	for _, role := range s.Alerting.EscalationRoles {
		key := "legacy.tg." + strings.ToLower(role)
		if err := v.BindEnv(key, "TG_"+role); err != nil {
			return nil, errors.Config("bind env TG_"+role, err)
		}
		if dest := strings.TrimSpace(v.GetString(key)); dest != "" && dest != "0" {
			out[role] = dest
		}
	}
	for role, id := range ParseRoleChatIDs(v.GetString("legacy.role_chat_ids")) {
		out[role] = id
	}
	return out, nil
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Validate reports the first configuration problem found.
func (s *Settings) Validate() error {
	switch s.Database.Type {
	case "sqlite":
		if s.Database.Path == "" {
			return errors.Config("validate", fmt.Errorf("database.path is required for sqlite"))
		}
	case "mysql":
		if s.Database.DSN == "" {
			return errors.Config("validate", fmt.Errorf("database.dsn is required for mysql"))
		}
	default:
		return errors.Config("validate", fmt.Errorf("unsupported database.type %q", s.Database.Type))
	}

	switch s.Alerting.RecoveryPolicy {
	case RecoveryImmediate, RecoveryClearance:
	default:
		return errors.Config("validate", fmt.Errorf("unsupported alerting.recovery_policy %q", s.Alerting.RecoveryPolicy))
	}
	if s.Alerting.AttemptThreshold < 1 {
		return errors.Config("validate", fmt.Errorf("alerting.attempt_threshold must be at least 1"))
	}
	if s.Alerting.ReminderTick.Std() <= 0 {
		return errors.Config("validate", fmt.Errorf("alerting.reminder_tick must be positive"))
	}
	if s.Alerting.ReminderIntervalMinutes < 1 {
		return errors.Config("validate", fmt.Errorf("alerting.reminder_interval_minutes must be at least 1"))
	}
	if s.Classification.Margin < 0 {
		return errors.Config("validate", fmt.Errorf("classification.margin must not be negative"))
	}
	if s.Classification.DefaultMinTemp > s.Classification.DefaultMaxTemp {
		return errors.Config("validate", fmt.Errorf("classification.default_min_temp exceeds default_max_temp"))
	}
	if s.Transport.QueueSize < 1 {
		return errors.Config("validate", fmt.Errorf("transport.queue_size must be at least 1"))
	}
	if s.Transport.PushTimeout < 0 {
		return errors.Config("validate", fmt.Errorf("transport.push_timeout must not be negative"))
	}
	return nil
}

// ValidateTransport checks the settings needed to consume telemetry. It is
// separate from Validate so commands that never ingest (migrate, bot) can
// start without a broker.
func (s *Settings) ValidateTransport() error {
	switch s.Transport.Kind {
	case TransportMQTT:
		if strings.TrimSpace(s.Transport.MQTT.Host) == "" {
			return errors.Config("validate", fmt.Errorf("transport.mqtt.host (MQTT_HOST) is required"))
		}
		if s.Transport.MQTT.Port <= 0 || s.Transport.MQTT.Port > 65535 {
			return errors.Config("validate", fmt.Errorf("transport.mqtt.port %d out of range", s.Transport.MQTT.Port))
		}
		if s.Transport.MQTT.QoS > 2 {
			return errors.Config("validate", fmt.Errorf("transport.mqtt.qos must be 0, 1 or 2"))
		}
	case TransportKafka:
		if len(s.Transport.Kafka.Brokers) == 0 {
			return errors.Config("validate", fmt.Errorf("transport.kafka.brokers is required"))
		}
		if s.Transport.Kafka.Topic == "" {
			return errors.Config("validate", fmt.Errorf("transport.kafka.topic is required"))
		}
	default:
		return errors.Config("validate", fmt.Errorf("unsupported transport.kind %q", s.Transport.Kind))
	}
	return nil
}

// ValidateCommands checks the settings needed by the Telegram command poller.
func (s *Settings) ValidateCommands() error {
	if s.Notification.BotToken == "" {
		return errors.Config("validate", fmt.Errorf("notification.bot_token (TELEGRAM_BOT_TOKEN) is required for commands"))
	}
	if s.Commands.PollTimeout < 0 {
		return errors.Config("validate", fmt.Errorf("commands.poll_timeout must not be negative"))
	}
	return nil
}

// ReminderInterval returns the default per-ticket reminder interval.
func (a AlertingSettings) ReminderInterval() time.Duration {
	return time.Duration(a.ReminderIntervalMinutes) * time.Minute
}
