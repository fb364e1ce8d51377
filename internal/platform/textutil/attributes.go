package textutil

import (
	"strings"
	"unicode/utf8"
)

// MessageAttributes trims keys and values and drops entries where either is empty. Values
// longer than maxValueBytes are cut on a rune boundary; zero or less keeps them whole.
func MessageAttributes(values map[string]string, maxValueBytes int) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if maxValueBytes > 0 && len(value) > maxValueBytes {
			value = truncateBytes(value, maxValueBytes)
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func truncateBytes(value string, limit int) string {
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
