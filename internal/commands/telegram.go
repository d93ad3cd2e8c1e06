// Package commands answers operator chat commands: /start, /status and /ack.
// Updates arrive either from a long-polling Poller or from the HTTP webhook.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/coldwatch/coldwatch/internal/errors"
)

// DefaultAPIBase is the public Telegram Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// requestSlack is added to the long-poll timeout for the HTTP deadline.
const requestSlack = 10 * time.Second

// Update is the subset of a Telegram update the bot reads.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
}

// Msg returns the message or, failing that, the edited message.
func (u Update) Msg() *Message {
	if u.Message != nil {
		return u.Message
	}
	return u.EditedMessage
}

// Message is a chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User is a message sender.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat identifies where a message was posted.
type Chat struct {
	ID int64 `json:"id"`
}

// ChatID returns the chat id as a destination string.
func (m *Message) ChatID() string {
	return strconv.FormatInt(m.Chat.ID, 10)
}

// Sender returns the username, then the first name, then "telegram-user".
func (m *Message) Sender() string {
	if m.From != nil {
		if m.From.Username != "" {
			return m.From.Username
		}
		if m.From.FirstName != "" {
			return m.From.FirstName
		}
	}
	return "telegram-user"
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

// BotClient calls the Telegram Bot API methods used by the Poller.
type BotClient struct {
	http *resty.Client
}

// NewBotClient creates a client for token. An empty apiBase selects the
// public endpoint. pollTimeout is the getUpdates long-poll timeout.
func NewBotClient(apiBase, token string, pollTimeout time.Duration) *BotClient {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", apiBase, token)).
		SetTimeout(pollTimeout+requestSlack).
		SetHeader("Accept", "application/json")
	return &BotClient{http: client}
}

// Resty exposes the underlying client, for transport substitution in tests.
func (c *BotClient) Resty() *resty.Client {
	return c.http
}

// DeleteWebhook removes any registered webhook so getUpdates is allowed.
// Pending updates are kept.
func (c *BotClient) DeleteWebhook(ctx context.Context) error {
	var out apiResponse[bool]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("drop_pending_updates", "false").
		SetResult(&out).
		SetError(&out).
		Post("/deleteWebhook")
	return checkResponse("deleteWebhook", resp, err, out.OK, out.Description)
}

// GetUpdates long-polls for updates with id >= offset.
func (c *BotClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var out apiResponse[[]Update]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":  strconv.FormatInt(offset, 10),
			"timeout": strconv.Itoa(int(timeout / time.Second)),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/getUpdates")
	if err := checkResponse("getUpdates", resp, err, out.OK, out.Description); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func checkResponse(method string, resp *resty.Response, err error, ok bool, description string) error {
	if err != nil {
		return errors.Transport(method, err)
	}
	if resp.IsError() || !ok {
		if description == "" {
			description = resp.Status()
		}
		return errors.Transport(method, fmt.Errorf("telegram %s failed: %s", method, description))
	}
	return nil
}
