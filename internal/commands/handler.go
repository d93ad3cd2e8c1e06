package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coldwatch/coldwatch/internal/alerting"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/datastore/repository"
	"github.com/coldwatch/coldwatch/internal/logger"
)

// statusLimit caps the tickets listed by /status.
const statusLimit = 10

const (
	startText   = "✅ *ColdChain Bot Ready!*\nUse `/status` to see open alerts or `/ack <ticketId>` to acknowledge."
	ackUsage    = "Usage: `/ack <ticketId>`"
	unknownText = "🤖 Unknown command. Try `/status` or `/ack <id>`."
	missing     = "—"
)

// markdownEscaper escapes user text placed outside Markdown entities.
// Telegram's legacy Markdown has no escapes inside an entity, so such text
// never goes inside bold or italics.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// codeSpan wraps s in backticks, replacing any backtick it contains.
func codeSpan(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}

// Acknowledger acknowledges OPEN tickets.
type Acknowledger interface {
	Acknowledge(ctx context.Context, ticketID uint, actor string) (alerting.AckResult, error)
}

// Replier delivers a Markdown reply to a chat.
type Replier interface {
	Notify(ctx context.Context, destination, text string, formatted bool) bool
}

// RoleNamer maps a ladder index to a role name.
type RoleNamer interface {
	RoleName(index int) string
}

// Handler turns command messages into replies.
type Handler struct {
	acks         Acknowledger
	tickets      repository.TicketRepository
	measurements repository.MeasurementRepository
	roles        RoleNamer
	replier      Replier
	log          logger.Logger

	// Now is used for ticket ages.
	Now func() time.Time
}

// NewHandler creates a Handler. roles may be nil.
func NewHandler(
	acks Acknowledger,
	tickets repository.TicketRepository,
	measurements repository.MeasurementRepository,
	roles RoleNamer,
	replier Replier,
	log logger.Logger,
) *Handler {
	return &Handler{
		acks:         acks,
		tickets:      tickets,
		measurements: measurements,
		roles:        roles,
		replier:      replier,
		log:          log.Module("commands"),
		Now:          time.Now,
	}
}

// ProcessUpdate answers one update. Updates without a command text are
// ignored. It reports whether a reply was delivered.
func (h *Handler) ProcessUpdate(ctx context.Context, u Update) bool {
	msg := u.Msg()
	if msg == nil || !strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		return false
	}
	reply := h.Reply(ctx, msg)
	h.log.Debug("command handled",
		logger.Int64("update_id", u.UpdateID),
		logger.String("chat", msg.ChatID()),
		logger.String("text", msg.Text))
	return h.replier.Notify(ctx, msg.ChatID(), reply, true)
}

// Reply builds the reply text for msg.
func (h *Handler) Reply(ctx context.Context, msg *Message) string {
	name, args := parseCommand(msg.Text)
	switch name {
	case "/start":
		return startText
	case "/status":
		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}
		return h.status(ctx, filter)
	case "/ack":
		if len(args) == 0 {
			return ackUsage
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return ackUsage
		}
		return h.ack(ctx, uint(id), msg.Sender())
	default:
		return unknownText
	}
}

// parseCommand splits "/cmd@bot a b" into "/cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name), fields[1:]
}

func (h *Handler) status(ctx context.Context, filter string) string {
	tickets, err := h.tickets.ListOpen(ctx, filter, statusLimit)
	if err != nil {
		h.log.Error("failed to list open tickets", logger.Error(err))
		return "⚠️ " + escapeMarkdown(err.Error())
	}
	if len(tickets) == 0 {
		text := "📊 *Open tickets:* none."
		if filter != "" {
			text = fmt.Sprintf("📊 *Open tickets:* none (device %s).", codeSpan(filter))
		}
		return text
	}

	now := h.Now()
	lines := []string{"📊 *Open tickets:*"}
	for i := range tickets {
		lines = append(lines, h.statusLine(ctx, &tickets[i], now))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) statusLine(ctx context.Context, t *entities.Ticket, now time.Time) string {
	icon := "🟠"
	if t.Severity == entities.SeverityCritical {
		icon = "🔴"
	}
	temp, hum := missing, missing
	if m, err := h.measurements.Latest(ctx, t.DeviceID); err != nil {
		h.log.Warn("failed to load latest measurement",
			logger.Uint64("device_id", uint64(t.DeviceID)),
			logger.Error(err))
	} else if m != nil {
		temp = fmt.Sprintf("%.1f°C", m.TempC)
		if m.Humidity != nil {
			hum = fmt.Sprintf("%.0f%%", *m.Humidity)
		}
	}
	age := int(now.Sub(t.OpenedAt) / time.Minute)

	line := fmt.Sprintf("%s *#%d* – %s *%s* (%s / %s)  age: %dm  attempts: %d",
		icon, t.ID, codeSpan(t.Device.Code), t.Severity, temp, hum, max(age, 0), t.AttemptCount)
	if h.roles != nil {
		if role := h.roles.RoleName(t.LastNotifiedRoleIndex); role != "" {
			line += "  role: " + escapeMarkdown(role)
		}
	}
	return line
}

func (h *Handler) ack(ctx context.Context, id uint, sender string) string {
	res, err := h.acks.Acknowledge(ctx, id, sender)
	if !res.OK {
		reason := res.Error
		if reason == "" && err != nil {
			reason = err.Error()
		}
		return "⚠️ " + escapeMarkdown(reason)
	}

	code, severity, temp := missing, missing, missing
	if t, err := h.tickets.Get(ctx, id); err == nil && t != nil {
		code, severity = t.Device.Code, t.Severity
		if m, err := h.measurements.Latest(ctx, t.DeviceID); err == nil && m != nil {
			temp = fmt.Sprintf("%.1f°C", m.TempC)
		}
	}
	return fmt.Sprintf("✅ Ticket *#%d* for %s acknowledged by %s.\nSeverity: *%s* | Temp: %s",
		id, codeSpan(code), escapeMarkdown(sender), severity, temp)
}
