package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/coldwatch/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", settings.Database.Type)
	assert.Equal(t, TransportMQTT, settings.Transport.Kind)
	assert.Equal(t, Duration(3*time.Second), settings.Transport.ReconnectDelay)
	assert.Equal(t, 0, settings.Transport.MaxReconnectAttempts)
	assert.Equal(t, Duration(5*time.Second), settings.Transport.PushTimeout)
	assert.Equal(t, 1883, settings.Transport.MQTT.Port)
	assert.Equal(t, "coldchain/+/telemetry", settings.Transport.MQTT.Topic)
	assert.Equal(t, byte(1), settings.Transport.MQTT.QoS)
	assert.InDelta(t, 5.0, settings.Classification.Margin, 0)
	assert.InDelta(t, 5.0, settings.Classification.DefaultMinTemp, 0)
	assert.InDelta(t, 25.0, settings.Classification.DefaultMaxTemp, 0)
	assert.Equal(t, DefaultEscalationRoles, settings.Alerting.EscalationRoles)
	assert.Equal(t, 4, settings.Alerting.AttemptThreshold)
	assert.Equal(t, Duration(time.Minute), settings.Alerting.ReminderTick)
	assert.Equal(t, 30*time.Minute, settings.Alerting.ReminderInterval())
	assert.Equal(t, RecoveryImmediate, settings.Alerting.RecoveryPolicy)
	assert.Equal(t, Duration(10*time.Minute), settings.Alerting.ClearanceWindow)
	assert.False(t, settings.Notification.Enabled)
	assert.Equal(t, 50, settings.Commands.PollTimeout)

	// No broker host has a default.
	err = settings.ValidateTransport()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("MQTT_HOST", "broker.local")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MQTT_TOPIC", "site1/+/telemetry")
	t.Setenv("TELEGRAM_ENABLED", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200")
	t.Setenv("TG_SITE_PHARMA_MANAGER", "111")
	t.Setenv("TG_TECHNICAL_MANAGER", "0")
	t.Setenv("ROLE_CHAT_IDS", "TECHNICAL_MANAGER:222,PROCUREMENT_MANAGER:bad")

	settings, err := Load("")
	require.NoError(t, err)
	require.NoError(t, settings.ValidateTransport())

	assert.Equal(t, "broker.local", settings.Transport.MQTT.Host)
	assert.Equal(t, 8883, settings.Transport.MQTT.Port)
	assert.Equal(t, "tcp://broker.local:8883", settings.Transport.MQTT.BrokerURL())
	assert.Equal(t, "site1/+/telemetry", settings.Transport.MQTT.Topic)
	assert.True(t, settings.Notification.Enabled)
	assert.Equal(t, "123:abc", settings.Notification.BotToken)
	assert.Equal(t, "-100200", settings.Notification.PrimaryChatID)
	assert.Equal(t, map[string]string{
		"SITE_PHARMA_MANAGER": "111",
		"TECHNICAL_MANAGER":   "222",
	}, settings.Notification.RoleDestinations)
}

func TestLoad_PrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("MQTT_HOST", "legacy")
	t.Setenv("COLDWATCH_TRANSPORT_MQTT_HOST", "modern")
	t.Setenv("COLDWATCH_ALERTING_RECOVERY_POLICY", "clearance")
	t.Setenv("COLDWATCH_ALERTING_ESCALATION_ROLES", "oncall,lead")

	settings, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "modern", settings.Transport.MQTT.Host)
	assert.Equal(t, RecoveryClearance, settings.Alerting.RecoveryPolicy)
	assert.Equal(t, []string{"ONCALL", "LEAD"}, settings.Alerting.EscalationRoles)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coldwatch.yaml")
	content := `
transport:
  kind: kafka
  reconnect_delay: 5
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    topic: telemetry
alerting:
  escalation_roles: [duty, supervisor]
  reminder_tick: 30s
notification:
  role_destinations:
    duty: "ntfy://ntfy.sh/coldwatch-duty"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, settings.ValidateTransport())

	assert.Equal(t, TransportKafka, settings.Transport.Kind)
	assert.Equal(t, Duration(5*time.Second), settings.Transport.ReconnectDelay)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, settings.Transport.Kafka.Brokers)
	assert.Equal(t, []string{"DUTY", "SUPERVISOR"}, settings.Alerting.EscalationRoles)
	assert.Equal(t, Duration(30*time.Second), settings.Alerting.ReminderTick)
	assert.Equal(t, "ntfy://ntfy.sh/coldwatch-duty", settings.Notification.RoleDestinations["DUTY"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestValidate(t *testing.T) {
	base := func() *Settings {
		s, err := Load("")
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"bad policy", func(s *Settings) { s.Alerting.RecoveryPolicy = "eventually" }},
		{"zero threshold", func(s *Settings) { s.Alerting.AttemptThreshold = 0 }},
		{"mysql without dsn", func(s *Settings) { s.Database.Type = "mysql" }},
		{"unknown database", func(s *Settings) { s.Database.Type = "postgres" }},
		{"inverted defaults", func(s *Settings) { s.Classification.DefaultMinTemp = 30 }},
		{"negative margin", func(s *Settings) { s.Classification.Margin = -1 }},
		{"empty queue", func(s *Settings) { s.Transport.QueueSize = 0 }},
		{"negative push timeout", func(s *Settings) { s.Transport.PushTimeout = Duration(-time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfig))
		})
	}
}

func TestValidateCommands(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	require.Error(t, s.ValidateCommands())

	s.Notification.BotToken = "123:abc"
	require.NoError(t, s.ValidateCommands())
}

func TestParseRoleChatIDs(t *testing.T) {
	t.Parallel()

	got := ParseRoleChatIDs(" ROLE_A:12345, role_b:-100998877 ,ROLE_C:x,NOCOLON,:5,ROLE_D:0,")
	assert.Equal(t, map[string]string{
		"ROLE_A": "12345",
		"ROLE_B": "-100998877",
	}, got)
	assert.Empty(t, ParseRoleChatIDs(""))
}
