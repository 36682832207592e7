package handlers

import "time"

// Config is the application-supplied configuration map handed to each
// handler's FromConfig factory. Values are loosely typed on purpose; the
// accessors below coerce the common cases.
type Config map[string]interface{}

// String returns the string value for key, or "" when absent or not a
// string.
func (c Config) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the boolean value for key; absent keys are false.
func (c Config) Bool(key string) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return false
}

// Seconds interprets the value for key as a duration in seconds; it accepts
// int, int64, float64 or time.Duration values. Absent or zero values return
// the provided default.
func (c Config) Seconds(key string, def time.Duration) time.Duration {
	switch v := c[key].(type) {
	case time.Duration:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case int64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	}
	return def
}

// Has reports whether key carries a truthy value: a non-empty string, true,
// or any non-nil non-string value.
func (c Config) Has(key string) bool {
	switch v := c[key].(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	default:
		return true
	}
}
