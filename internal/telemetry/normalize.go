package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/coldwatch/coldwatch/internal/errors"
)

// maxDeviceCodeLen matches the device code column size.
const maxDeviceCodeLen = 64

// Reading is a validated telemetry sample.
type Reading struct {
	DeviceCode string
	TempC      float64
	Humidity   *float64
	// Timestamp is always UTC.
	Timestamp time.Time
	// Warnings lists recoverable problems, such as a timestamp that could not
	// be parsed and was replaced with the receive time.
	Warnings []string
}

// Normalizer converts raw payloads into Readings. It performs no I/O; Now is
// the only external input.
type Normalizer struct {
	Now func() time.Time
}

// NewNormalizer returns a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now().UTC()
	}
	return n.Now().UTC()
}

// Normalize decodes a JSON object payload. fallbackDevice is used when the
// payload carries no device identifier, typically the device segment of the
// transport topic; pass "" to require it in the payload.
func (n *Normalizer) Normalize(payload []byte, fallbackDevice string) (*Reading, error) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return nil, errors.Validation("normalize", fmt.Errorf("payload is not a JSON object: %w", err))
	}
	fields := obj.Map()

	reading := &Reading{}

	device, ok := lookupString(fields, deviceAliases)
	if !ok {
		device = strings.TrimSpace(fallbackDevice)
	}
	if device == "" {
		return nil, errors.Validation("normalize", fmt.Errorf("missing device identifier"))
	}
	if len(device) > maxDeviceCodeLen {
		return nil, errors.Validation("normalize", fmt.Errorf("device identifier longer than %d characters", maxDeviceCodeLen))
	}
	reading.DeviceCode = device

	temp, present, err := lookupNumber(fields, temperatureAlias)
	if err != nil {
		return nil, errors.Validation("normalize", fmt.Errorf("temperature: %w", err))
	}
	if !present {
		return nil, errors.Validation("normalize", fmt.Errorf("missing temperature"))
	}
	reading.TempC = temp

	hum, present, err := lookupNumber(fields, humidityAliases)
	if err != nil {
		return nil, errors.Validation("normalize", fmt.Errorf("humidity: %w", err))
	}
	if present {
		reading.Humidity = &hum
	}

	reading.Timestamp, reading.Warnings = n.timestamp(fields)
	return reading, nil
}

// timestamp resolves the reading time. Absent, empty or zero values mean now;
// unparsable values also mean now but add a warning.
func (n *Normalizer) timestamp(fields map[string]*jason.Value) (time.Time, []string) {
	now := n.now()
	v, key := lookup(fields, timestampAliases)
	if v == nil || v.Null() == nil {
		return now, nil
	}

	if num, err := v.Number(); err == nil {
		f, err := num.Float64()
		if err != nil || math.IsInf(f, 0) {
			return now, []string{fmt.Sprintf("%s: unusable epoch %q, using receive time", key, num.String())}
		}
		if f == 0 {
			return now, nil
		}
		return FromEpoch(f), nil
	}

	if s, err := v.String(); err == nil {
		if strings.TrimSpace(s) == "" {
			return now, nil
		}
		t, err := ParseTimestampString(s)
		if err != nil {
			return now, []string{fmt.Sprintf("%s: %v, using receive time", key, err)}
		}
		return t, nil
	}

	return now, []string{fmt.Sprintf("%s: unsupported timestamp type, using receive time", key)}
}

// lookup returns the first present alias and its key.
func lookup(fields map[string]*jason.Value, aliases []string) (*jason.Value, string) {
	for _, key := range aliases {
		if v, ok := fields[key]; ok {
			return v, key
		}
	}
	return nil, ""
}

// lookupString accepts string or numeric identifiers.
func lookupString(fields map[string]*jason.Value, aliases []string) (string, bool) {
	v, _ := lookup(fields, aliases)
	if v == nil {
		return "", false
	}
	if s, err := v.String(); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	if num, err := v.Number(); err == nil {
		return num.String(), true
	}
	return "", false
}

// lookupNumber accepts JSON numbers and numeric strings. A null or empty
// string counts as absent.
func lookupNumber(fields map[string]*jason.Value, aliases []string) (float64, bool, error) {
	v, _ := lookup(fields, aliases)
	if v == nil || v.Null() == nil {
		return 0, false, nil
	}
	if num, err := v.Number(); err == nil {
		return parseFinite(num)
	}
	if s, err := v.String(); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
		return parseFinite(json.Number(s))
	}
	return 0, false, fmt.Errorf("expected a number")
}

func parseFinite(num json.Number) (float64, bool, error) {
	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid number %q", num.String())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("non-finite number %q", num.String())
	}
	return f, true, nil
}
