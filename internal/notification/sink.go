// Package notification delivers alert messages to chat destinations.
package notification

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/coldwatch/coldwatch/internal/errors"
)

// Sink sends one message to one destination.
type Sink interface {
	Send(ctx context.Context, destination, text string, formatted bool) error
}

// IsServiceURL reports whether destination is already a shoutrrr service URL
// (ntfy://..., telegram://...) rather than a bare chat id.
func IsServiceURL(destination string) bool {
	return strings.Contains(destination, "://")
}

// TelegramURL builds the shoutrrr URL for a Telegram chat. Formatted messages
// use Markdown; others are sent as plain text so role names with underscores
// survive.
func TelegramURL(botToken, chatID string, formatted bool) string {
	mode := "None"
	if formatted {
		mode = "Markdown"
	}
	return fmt.Sprintf("telegram://%s@telegram?chats=%s&parsemode=%s&preview=No",
		botToken, url.QueryEscape(chatID), mode)
}

// ShoutrrrSink delivers through shoutrrr. Bare chat ids are routed to
// Telegram with the configured bot token.
type ShoutrrrSink struct {
	botToken string

	mu      sync.Mutex
	senders map[string]*router.ServiceRouter
}

// NewShoutrrrSink creates a sink. botToken may be empty when every
// destination is a full service URL.
func NewShoutrrrSink(botToken string) *ShoutrrrSink {
	return &ShoutrrrSink{
		botToken: botToken,
		senders:  make(map[string]*router.ServiceRouter),
	}
}

// ResolveURL returns the shoutrrr URL used for destination.
func (s *ShoutrrrSink) ResolveURL(destination string, formatted bool) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", errors.Config("resolve destination", fmt.Errorf("empty destination"))
	}
	if IsServiceURL(destination) {
		return destination, nil
	}
	if s.botToken == "" {
		return "", errors.Config("resolve destination", fmt.Errorf("bot token required for chat id %s", destination))
	}
	return TelegramURL(s.botToken, destination, formatted), nil
}

func (s *ShoutrrrSink) sender(serviceURL string) (*router.ServiceRouter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.senders[serviceURL]; ok {
		return r, nil
	}
	r, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return nil, errors.Config("create sender", err)
	}
	s.senders[serviceURL] = r
	return r, nil
}

// Send delivers text and honours ctx cancellation. shoutrrr itself does not
// take a context, so an abandoned send may finish in the background.
func (s *ShoutrrrSink) Send(ctx context.Context, destination, text string, formatted bool) error {
	serviceURL, err := s.ResolveURL(destination, formatted)
	if err != nil {
		return err
	}
	r, err := s.sender(serviceURL)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- errors.Join(r.Send(text, &types.Params{})...)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Transport("send notification", err)
		}
		return nil
	case <-ctx.Done():
		return errors.Transport("send notification", ctx.Err())
	}
}
