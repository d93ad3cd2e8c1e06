package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

// naiveLayouts are zone-less layouts interpreted as UTC. Fractional seconds
// are accepted by time.Parse even when the layout omits them.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// zonedLayouts carry an explicit zone designator.
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
}

// FromEpoch converts epoch seconds, or milliseconds above 1e11, to UTC.
func FromEpoch(v float64) time.Time {
	if v > epochMillisThreshold {
		ms := int64(math.Round(v))
		return time.UnixMilli(ms).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// ParseTimestampString parses an RFC 3339 string (converted to UTC), a naive
// date-time (assumed UTC) or a numeric epoch string.
func ParseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(v, 0) && !math.IsNaN(v) {
		return FromEpoch(v), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
