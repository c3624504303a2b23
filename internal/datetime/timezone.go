package datetime

import (
	"strings"
	"time"
)

// ResolveLocation loads a configured zone name. Empty or unknown names
// fall back to UTC; ok reports whether the configured name was used.
func ResolveLocation(configured string) (loc *time.Location, ok bool) {
	trimmed := strings.TrimSpace(configured)
	if trimmed == "" {
		return time.UTC, false
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}
