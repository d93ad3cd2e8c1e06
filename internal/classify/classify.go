// Package classify maps a temperature onto NORMAL, SEVERE or CRITICAL.
package classify

import "github.com/coldwatch/coldwatch/internal/datastore/entities"

// State is the classification of one reading.
type State string

const (
	Normal   State = "NORMAL"
	Severe   State = "SEVERE"
	Critical State = "CRITICAL"
)

// DefaultMargin is the band beyond min/max that is still SEVERE.
const DefaultMargin = 5.0

// IsViolation reports whether s is SEVERE or CRITICAL.
func (s State) IsViolation() bool {
	return s == Severe || s == Critical
}

// Rank orders states NORMAL < SEVERE < CRITICAL.
func (s State) Rank() int {
	switch s {
	case Severe:
		return 1
	case Critical:
		return 2
	default:
		return 0
	}
}

// Classify compares tempC with the [minTemp, maxTemp] range widened by margin.
// Boundaries are inclusive: a reading exactly on min or max is NORMAL and one
// exactly on min-margin or max+margin is SEVERE.
func Classify(tempC, minTemp, maxTemp, margin float64) State {
	if tempC < minTemp-margin || tempC > maxTemp+margin {
		return Critical
	}
	if tempC < minTemp || tempC > maxTemp {
		return Severe
	}
	return Normal
}

// ClassifyRule applies an AlertRule's critical and warning bands.
func ClassifyRule(tempC float64, rule *entities.AlertRule) State {
	if tempC < rule.LowCrit || tempC > rule.HighCrit {
		return Critical
	}
	if tempC < rule.LowWarn || tempC > rule.HighWarn {
		return Severe
	}
	return Normal
}

// Evaluate classifies with the device's rule when it has one, and with the
// device's bounds otherwise.
func Evaluate(tempC float64, device *entities.Device, rule *entities.AlertRule, margin float64) State {
	if rule != nil {
		return ClassifyRule(tempC, rule)
	}
	return Classify(tempC, device.MinTemp, device.MaxTemp, margin)
}
