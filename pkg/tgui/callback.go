package tgui

import (
	"fmt"
	"strings"
)

// Data formats inline callback data as "scope:action:payload" and enforces the size limit.
func Data(scope, action, payload string) (string, error) {
	s := strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(s))
	}
	return s, nil
}

// ParseData splits callback data produced by Data. The payload may contain ':'.
func ParseData(data string) (scope, action, payload string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
