// Package alerting drives incident tickets: opening, severity escalation,
// the role escalation ladder, acknowledgement, recovery and reminders.
package alerting

import "time"

// Actions describe what Apply did with a classified reading.
const (
	ActionNone       = "none"
	ActionOpened     = "opened"
	ActionEscalated  = "escalated"
	ActionAdvanced   = "advanced"
	ActionCounted    = "counted"
	ActionSuppressed = "suppressed"
	ActionHeld       = "held"
	ActionClosed     = "closed"
	ActionReminded   = "reminded"
	ActionAcked      = "acknowledged"
)

// Template keys. Each can be overridden through alerting.templates.
const (
	TemplateOpened    = "opened"
	TemplateEscalated = "escalated"
	TemplateAdvanced  = "advanced"
	TemplateReminder  = "reminder"
	TemplateRecovered = "recovered"
)

const (
	// DefaultAttemptThreshold is the number of violation readings at one role
	// before the ladder advances.
	DefaultAttemptThreshold = 4
	// DefaultClearanceWindow is how long readings must stay NORMAL before a
	// ticket closes under the clearance policy.
	DefaultClearanceWindow = 10 * time.Minute
	// DefaultReminderTick is the scheduler sweep period.
	DefaultReminderTick = 60 * time.Second
	// DefaultReminderIntervalMinutes is stored on new tickets.
	DefaultReminderIntervalMinutes = 30
)

const (
	// saveEventTimeout bounds persisting one ticket event.
	saveEventTimeout = 3 * time.Second
	// cleanupTimeout bounds one history cleanup pass.
	cleanupTimeout = 5 * time.Second
	// cleanupInterval is how often old ticket events are pruned.
	cleanupInterval = 1 * time.Hour
	// createRetries bounds the find/create loop when a ticket closes between
	// the lookup and the mutation.
	createRetries = 3
)
