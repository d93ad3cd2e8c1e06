package notification

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/logger"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultRate        = 20.0
	defaultBurst       = 5
)

// Config controls a Dispatcher.
type Config struct {
	Enabled       bool
	BotToken      string
	PrimaryChatID string
	// Roles is the escalation ladder in order.
	Roles []string
	// RoleDestinations maps an upper-case role to a chat id or service URL.
	RoleDestinations map[string]string
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
}

// ConfigFromSettings builds a dispatcher Config from application settings.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		Enabled:          s.Notification.Enabled,
		BotToken:         s.Notification.BotToken,
		PrimaryChatID:    s.Notification.PrimaryChatID,
		Roles:            s.Alerting.EscalationRoles,
		RoleDestinations: s.Notification.RoleDestinations,
		Timeout:          s.Notification.Timeout.Std(),
		RatePerSecond:    s.Notification.RatePerSecond,
		Burst:            s.Notification.Burst,
	}
}

// Dispatcher resolves roles to destinations and sends through a Sink. Its
// methods report delivery as a bool and never return errors: a failed
// notification must not block ticket progression.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	limiter *rate.Limiter
	log     logger.Logger
}

// NewDispatcher creates a Dispatcher. A nil sink means a ShoutrrrSink using
// cfg.BotToken.
func NewDispatcher(cfg Config, sink Sink, log logger.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if sink == nil {
		sink = NewShoutrrrSink(cfg.BotToken)
	}
	destinations := make(map[string]string, len(cfg.RoleDestinations))
	for role, dest := range cfg.RoleDestinations {
		destinations[strings.ToUpper(role)] = strings.TrimSpace(dest)
	}
	cfg.RoleDestinations = destinations

	return &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:     log,
	}
}

// Enabled reports whether outbound delivery is switched on.
func (d *Dispatcher) Enabled() bool {
	return d.cfg.Enabled
}

// Roles returns the escalation ladder.
func (d *Dispatcher) Roles() []string {
	out := make([]string, len(d.cfg.Roles))
	copy(out, d.cfg.Roles)
	return out
}

// ClampRole limits index to the ladder. It returns -1 for an empty ladder.
func (d *Dispatcher) ClampRole(index int) int {
	if len(d.cfg.Roles) == 0 {
		return -1
	}
	return max(0, min(index, len(d.cfg.Roles)-1))
}

// RoleName returns the clamped role name at index, or "" for an empty ladder.
func (d *Dispatcher) RoleName(index int) string {
	i := d.ClampRole(index)
	if i < 0 {
		return ""
	}
	return d.cfg.Roles[i]
}

// Destination returns the configured destination for role, or "".
func (d *Dispatcher) Destination(role string) string {
	dest := d.cfg.RoleDestinations[strings.ToUpper(role)]
	if dest == "0" {
		return ""
	}
	return dest
}

// Notify sends text to destination under the configured timeout.
func (d *Dispatcher) Notify(ctx context.Context, destination, text string, formatted bool) bool {
	if !d.cfg.Enabled {
		d.log.Debug("notification skipped: delivery disabled")
		return false
	}
	destination = strings.TrimSpace(destination)
	if destination == "" || destination == "0" {
		d.log.Debug("notification skipped: no destination")
		return false
	}
	if d.cfg.BotToken == "" && !IsServiceURL(destination) {
		d.log.Debug("notification skipped: bot token missing", logger.String("destination", destination))
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := d.limiter.Wait(sendCtx); err != nil {
		d.log.Warn("notification rate limit wait aborted",
			logger.String("destination", redact(destination)),
			logger.Error(err))
		return false
	}

	start := time.Now()
	if err := d.sink.Send(sendCtx, destination, text, formatted); err != nil {
		d.log.Warn("notification not delivered",
			logger.String("destination", redact(destination)),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return false
	}
	d.log.Debug("notification delivered",
		logger.String("destination", redact(destination)),
		logger.Duration("elapsed", time.Since(start)))
	return true
}

// NotifyRole sends text to the destination of the role at index, clamped to
// the ladder.
func (d *Dispatcher) NotifyRole(ctx context.Context, index int, text string) bool {
	role := d.RoleName(index)
	if role == "" {
		d.log.Debug("notification skipped: no escalation roles configured")
		return false
	}
	dest := d.Destination(role)
	if dest == "" {
		d.log.Debug("notification skipped: role has no destination", logger.String("role", role))
		return false
	}
	return d.Notify(ctx, dest, text, false)
}

// ResolveBroadcast picks the destination for a broadcast: the explicit id,
// then the primary chat, then the first mapped role in ladder order.
func (d *Dispatcher) ResolveBroadcast(explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" && explicit != "0" {
		return explicit
	}
	if p := strings.TrimSpace(d.cfg.PrimaryChatID); p != "" && p != "0" {
		return p
	}
	for _, role := range d.cfg.Roles {
		if dest := d.Destination(role); dest != "" {
			return dest
		}
	}
	return ""
}

// Broadcast sends text to the destination chosen by ResolveBroadcast.
func (d *Dispatcher) Broadcast(ctx context.Context, explicit, text string) bool {
	dest := d.ResolveBroadcast(explicit)
	if dest == "" {
		d.log.Debug("broadcast skipped: no destination resolved")
		return false
	}
	return d.Notify(ctx, dest, text, false)
}

// redact hides credentials embedded in service URLs.
func redact(destination string) string {
	if !IsServiceURL(destination) {
		return destination
	}
	scheme, rest, _ := strings.Cut(destination, "://")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***" + rest[at:]
	}
	if q := strings.Index(rest, "?"); q >= 0 {
		rest = rest[:q]
	}
	return scheme + "://" + rest
}
