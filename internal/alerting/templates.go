package alerting

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
)

// defaultTemplates hold the built-in notification texts.
var defaultTemplates = map[string]string{
	TemplateOpened:    "🚨 {{device}} {{severity}}\nOpened at {{opened_at}}",
	TemplateEscalated: "⏫ {{device}} escalated to CRITICAL at {{now_hm}} UTC",
	TemplateAdvanced: "🚨 ColdChain Alert\nDevice: {{device}}\nSeverity: {{severity}}\nRole: {{role}}\n" +
		"Attempts since last escalation: {{attempts}}\nTicket ID: {{ticket_id}}",
	TemplateReminder:  "⏰ {{device}} still {{severity}}. Incident open since {{opened_at}}.",
	TemplateRecovered: "✅ {{device}} back to normal\nClosed at {{now}}",
}

const timeLayout = "2006-01-02 15:04 UTC"

// Templates renders notification texts. Keys missing from the overrides fall
// back to the built-in texts.
type Templates struct {
	texts map[string]string
}

// NewTemplates merges overrides over the built-in texts. Blank overrides are ignored.
func NewTemplates(overrides map[string]string) Templates {
	texts := make(map[string]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		texts[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			texts[strings.ToLower(k)] = v
		}
	}
	return Templates{texts: texts}
}

// Render substitutes ticket variables into the named template.
func (t Templates) Render(name string, ticket *entities.Ticket, role string, now time.Time) string {
	tmpl, ok := t.texts[name]
	if !ok {
		tmpl, ok = defaultTemplates[name]
	}
	if !ok {
		return fmt.Sprintf("%s %s", ticket.Device.Code, ticket.Severity)
	}
	return renderTemplate(tmpl, ticket, role, now)
}

func renderTemplate(tmpl string, ticket *entities.Ticket, role string, now time.Time) string {
	now = now.UTC()
	device := ticket.Device.Code
	if device == "" {
		device = "device-" + strconv.FormatUint(uint64(ticket.DeviceID), 10)
	}
	pairs := []string{
		"{{device}}", device,
		"{{site}}", ticket.Device.Site,
		"{{severity}}", ticket.Severity,
		"{{role}}", role,
		"{{attempts}}", strconv.Itoa(ticket.AttemptCount),
		"{{ticket_id}}", strconv.FormatUint(uint64(ticket.ID), 10),
		"{{opened_at}}", ticket.OpenedAt.UTC().Format(timeLayout),
		"{{now}}", now.Format(timeLayout),
		"{{now_hm}}", now.Format("15:04"),
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
