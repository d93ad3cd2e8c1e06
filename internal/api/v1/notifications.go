package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/coldwatch/coldwatch/internal/commands"
	"github.com/coldwatch/coldwatch/internal/logger"
)

const defaultTestText = "🧪 coldwatch test notification"

// TestNotificationRequest is the body of POST /notifications/test.
type TestNotificationRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (c *Controller) initNotificationRoutes() {
	c.Group.POST("/notifications/test", c.SendTestNotification)
	c.Group.POST("/telegram/webhook", c.TelegramWebhook)
}

// SendTestNotification broadcasts a message to the explicit chat, the primary
// chat, or the first mapped role.
func (c *Controller) SendTestNotification(ctx echo.Context) error {
	if c.deps.Dispatcher == nil || !c.deps.Dispatcher.Enabled() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Notifications are disabled"})
	}

	var req TestNotificationRequest
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&req); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		}
	}

	dest := c.deps.Dispatcher.ResolveBroadcast(req.ChatID)
	if dest == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "No destination configured"})
	}

	ref := uuid.New().String()
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = defaultTestText
	}
	text += " [" + ref[:8] + "]"

	delivered := c.deps.Dispatcher.Broadcast(ctx.Request().Context(), dest, text)
	c.log.Info("test notification sent",
		logger.String("reference", ref),
		logger.Bool("delivered", delivered))
	return ctx.JSON(http.StatusOK, map[string]any{"delivered": delivered, "reference": ref})
}

// TelegramWebhook accepts one Telegram update. Telegram retries on any
// non-2xx answer, so handled and ignored updates both return ok.
func (c *Controller) TelegramWebhook(ctx echo.Context) error {
	if c.deps.Commands == nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "commands disabled"})
	}

	var update commands.Update
	if err := ctx.Bind(&update); err != nil {
		c.log.Warn("malformed telegram update", logger.Error(err))
		return ctx.JSON(http.StatusOK, map[string]any{"ok": true, "handled": false})
	}

	handled := c.deps.Commands.ProcessUpdate(ctx.Request().Context(), update)
	return ctx.JSON(http.StatusOK, map[string]any{"ok": true, "handled": handled})
}
