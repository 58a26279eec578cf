package utils

import "strings"

// ParseDeviceID returns the second level of a devices/<id>/... topic
func ParseDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}
