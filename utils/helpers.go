package utils

import (
	"strconv"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// BoundedInt parses a positive integer query value. Empty input yields def,
// values above max are capped. ok is false for anything unparsable or < 1.
func BoundedInt(raw string, def, max int) (n int, ok bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, false
	}
	if v > max {
		v = max
	}
	return v, true
}
