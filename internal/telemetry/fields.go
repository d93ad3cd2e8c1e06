// Package telemetry turns loosely formatted sensor payloads into typed readings.
package telemetry

// Accepted spellings for each payload field, in lookup order.
var (
	deviceAliases    = []string{"deviceId", "device_id", "device", "code"}
	temperatureAlias = []string{"tempC", "temp_c", "temperature", "temp"}
	humidityAliases  = []string{"humidity", "hum", "rh"}
	timestampAliases = []string{"ts", "timestamp", "time"}
)
