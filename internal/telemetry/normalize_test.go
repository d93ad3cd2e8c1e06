package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/coldwatch/internal/errors"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return fixedNow }}
}

func TestNormalize_Aliases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		device   string
		temp     float64
		humidity *float64
	}{
		{"camel case", `{"deviceId":"F1","tempC":4.5,"humidity":60}`, "F1", 4.5, ptr(60)},
		{"snake case", `{"device_id":"F2","temp_c":"5.25","hum":"41.5"}`, "F2", 5.25, ptr(41.5)},
		{"short names", `{"device":"F3","temperature":-18,"rh":null}`, "F3", -18, nil},
		{"code and temp", `{"code":"F4","temp":7}`, "F4", 7, nil},
		{"numeric device id", `{"deviceId":1234,"tempC":3}`, "1234", 3, nil},
		{"first alias wins", `{"deviceId":"A","device":"B","tempC":1,"temp":2}`, "A", 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := testNormalizer().Normalize([]byte(tt.payload), "")
			require.NoError(t, err)
			assert.Equal(t, tt.device, r.DeviceCode)
			assert.InDelta(t, tt.temp, r.TempC, 1e-9)
			if tt.humidity == nil {
				assert.Nil(t, r.Humidity)
			} else {
				require.NotNil(t, r.Humidity)
				assert.InDelta(t, *tt.humidity, *r.Humidity, 1e-9)
			}
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `tempC=4`},
		{"array", `[1,2]`},
		{"missing device", `{"tempC":4}`},
		{"empty device", `{"deviceId":"  ","tempC":4}`},
		{"missing temperature", `{"deviceId":"F1"}`},
		{"null temperature", `{"deviceId":"F1","tempC":null}`},
		{"bad temperature", `{"deviceId":"F1","tempC":"warm"}`},
		{"object temperature", `{"deviceId":"F1","tempC":{"v":1}}`},
		{"bad humidity", `{"deviceId":"F1","tempC":4,"humidity":"wet"}`},
		{"nan", `{"deviceId":"F1","tempC":"NaN"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := testNormalizer().Normalize([]byte(tt.payload), "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation))
		})
	}
}

func TestNormalize_FallbackDevice(t *testing.T) {
	t.Parallel()

	r, err := testNormalizer().Normalize([]byte(`{"tempC":4}`), "FROM-TOPIC")
	require.NoError(t, err)
	assert.Equal(t, "FROM-TOPIC", r.DeviceCode)

	r, err = testNormalizer().Normalize([]byte(`{"deviceId":"PAYLOAD","tempC":4}`), "FROM-TOPIC")
	require.NoError(t, err)
	assert.Equal(t, "PAYLOAD", r.DeviceCode)
}

func TestNormalize_Timestamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ts      string
		want    time.Time
		warning bool
	}{
		{"absent", ``, fixedNow, false},
		{"null", `,"ts":null`, fixedNow, false},
		{"empty string", `,"ts":""`, fixedNow, false},
		{"zero", `,"ts":0`, fixedNow, false},
		{"epoch seconds", `,"ts":1717243200`, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"epoch fractional seconds", `,"ts":1717243200.5`, time.Date(2024, 6, 1, 12, 0, 0, 500000000, time.UTC), false},
		{"epoch millis", `,"ts":1717243200123`, time.Date(2024, 6, 1, 12, 0, 0, 123000000, time.UTC), false},
		{"epoch string", `,"timestamp":"1717243200"`, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"rfc3339 utc", `,"ts":"2024-06-01T12:00:00Z"`, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"rfc3339 offset", `,"ts":"2024-06-01T15:00:00+03:00"`, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"compact offset fractional", `,"ts":"2024-06-01T14:00:05.123+0200"`, time.Date(2024, 6, 1, 12, 0, 5, 123000000, time.UTC), false},
		{"naive T", `,"time":"2024-06-01T12:00:00"`, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"naive space fractional", `,"ts":"2024-06-01 12:00:00.250"`, time.Date(2024, 6, 1, 12, 0, 0, 250000000, time.UTC), false},
		{"garbage", `,"ts":"yesterday"`, fixedNow, true},
		{"bool", `,"ts":true`, fixedNow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := `{"deviceId":"F1","tempC":4` + tt.ts + `}`
			r, err := testNormalizer().Normalize([]byte(payload), "")
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(r.Timestamp), "got %v want %v", r.Timestamp, tt.want)
			assert.Equal(t, time.UTC, r.Timestamp.Location())
			if tt.warning {
				assert.Len(t, r.Warnings, 1)
			} else {
				assert.Empty(t, r.Warnings)
			}
		})
	}
}

func TestFromEpoch_Threshold(t *testing.T) {
	t.Parallel()

	// 1e11 itself is still seconds (year 5138); anything above is milliseconds.
	assert.Equal(t, int64(1e11), FromEpoch(1e11).Unix())
	assert.Equal(t, int64(1e11+1), FromEpoch(1e11+1).UnixMilli())
}

func ptr(v float64) *float64 { return &v }
