//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoConfig = `listener 1883
allow_anonymous true
`

// MosquittoContainer is a disposable anonymous MQTT broker.
type MosquittoContainer struct {
	container  testcontainers.Container
	host       string
	port       int
	configFile string
}

// MosquittoConfig holds Mosquitto container options.
type MosquittoConfig struct {
	// ImageTag of eclipse-mosquitto (default: "2.0").
	ImageTag string
}

// NewMosquittoContainer starts a broker. A nil config uses image tag 2.0.
func NewMosquittoContainer(ctx context.Context, config *MosquittoConfig) (*MosquittoContainer, error) {
	tag := "2.0"
	if config != nil && config.ImageTag != "" {
		tag = config.ImageTag
	}

	configFile, err := writeTempFile("mosquitto-*.conf", mosquittoConfig)
	if err != nil {
		return nil, err
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:" + tag,
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-test.conf"},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      configFile,
				ContainerFilePath: "/mosquitto-test.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	mc := &MosquittoContainer{container: container, configFile: configFile}
	if mc.host, err = container.Host(ctx); err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	mc.port = mapped.Int()

	client, err := mc.CreateClient("healthcheck")
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	client.Disconnect(250)
	return mc, nil
}

// Host returns the mapped broker host.
func (c *MosquittoContainer) Host() string { return c.host }

// Port returns the mapped broker port.
func (c *MosquittoContainer) Port() int { return c.port }

// GetBrokerURL returns tcp://host:port.
func (c *MosquittoContainer) GetBrokerURL(t *testing.T) string {
	t.Helper()
	if c.host == "" {
		t.Fatal("broker host is empty")
	}
	return "tcp://" + net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// CreateClient connects a raw paho client. The caller disconnects it.
func (c *MosquittoContainer) CreateClient(clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + net.JoinHostPort(c.host, strconv.Itoa(c.port))).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client %s: %w", clientID, err)
	}
	return client, nil
}

// Publish sends one QoS 1 message through a short-lived client.
func (c *MosquittoContainer) Publish(topic string, payload []byte) error {
	client, err := c.CreateClient(fmt.Sprintf("publisher-%d", time.Now().UnixNano()))
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout on %s", topic)
	}
	return token.Error()
}

// Terminate removes the container and its temporary config file.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	var err error
	if c.container != nil {
		if terr := c.container.Terminate(ctx); terr != nil {
			err = fmt.Errorf("failed to terminate container: %w", terr)
		}
	}
	if c.configFile != "" {
		_ = os.Remove(c.configFile)
	}
	return err
}

func writeTempFile(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}
