package ws

import "strings"

// allowOrigin implements the admission allow-list. An empty list admits
// every origin (development mode). Entries may be exact origins,
// wildcard patterns ("*", "*.example.com") or extension-scheme patterns
// ("chrome-extension://*").
func allowOrigin(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, entry := range allowed {
		if entry == "*" || entry == origin {
			return true
		}
		if strings.HasSuffix(entry, "*") {
			if strings.HasPrefix(origin, strings.TrimSuffix(entry, "*")) {
				return true
			}
		}
		if strings.HasPrefix(entry, "*.") {
			if strings.HasSuffix(origin, strings.TrimPrefix(entry, "*")) {
				return true
			}
		}
	}
	return false
}
