//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/go-resty/resty/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NtfyContainer is a disposable ntfy server without authentication.
type NtfyContainer struct {
	container testcontainers.Container
	host      string
	port      int
	client    *resty.Client
}

// NtfyMessage is one message read back from a topic.
type NtfyMessage struct {
	ID      string
	Topic   string
	Message string
	Title   string
}

// NewNtfyContainer starts binwiederhier/ntfy:latest.
func NewNtfyContainer(ctx context.Context) (*NtfyContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "binwiederhier/ntfy:latest",
			ExposedPorts: []string{"80/tcp"},
			Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
			Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
			WaitingFor:   wait.ForHTTP("/v1/health").WithPort("80/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, "80")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	nc := &NtfyContainer{container: container, host: host, port: mapped.Int()}
	nc.client = resty.New().SetBaseURL(nc.URL()).SetTimeout(10 * time.Second)
	return nc, nil
}

// HostPort returns host:port of the server.
func (c *NtfyContainer) HostPort() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// URL returns the server's HTTP base URL.
func (c *NtfyContainer) URL() string {
	return "http://" + c.HostPort()
}

// ShoutrrrURL returns the notification destination for topic.
func (c *NtfyContainer) ShoutrrrURL(topic string) string {
	return fmt.Sprintf("ntfy://%s/%s?scheme=http", c.HostPort(), topic)
}

// PollMessages returns every cached message on topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("poll", "1").
		Get("/" + topic + "/json")
	if err != nil {
		return nil, fmt.Errorf("failed to poll messages: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("poll request failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	// One JSON object per line.
	var messages []NtfyMessage
	for line := range strings.SplitSeq(strings.TrimSpace(resp.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		obj, err := jason.NewObjectFromBytes([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("failed to parse message JSON: %w", err)
		}
		if event, _ := obj.GetString("event"); event != "" && event != "message" {
			continue
		}
		msg := NtfyMessage{}
		msg.ID, _ = obj.GetString("id")
		msg.Topic, _ = obj.GetString("topic")
		msg.Message, _ = obj.GetString("message")
		msg.Title, _ = obj.GetString("title")
		messages = append(messages, msg)
	}
	return messages, nil
}

// Terminate removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
