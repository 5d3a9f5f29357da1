package nostr

import (
	"net/url"
	"strings"
)

// NormalizeRelayURL validates a relay URL taken from a tag, a relay list or
// user input and returns its canonical form (lowercase scheme and host, no
// trailing slash). Returns empty string if the URL is unusable.
func NormalizeRelayURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" || strings.Count(relayURL, "://") != 1 {
		return ""
	}
	// URL-encoded spaces mean garbage text, not a relay
	if strings.Contains(relayURL, "%20") || strings.Contains(relayURL, "+") {
		return ""
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	if len(host) < 3 || strings.Contains(host, " ") {
		return ""
	}
	if !isLoopbackHost(host) {
		if !strings.Contains(host, ".") || isInternalHost(host) {
			return ""
		}
	}

	result := scheme + "://" + host
	if parsed.Port() != "" {
		result += ":" + parsed.Port()
	}
	if parsed.Path != "" && parsed.Path != "/" {
		result += strings.TrimSuffix(parsed.Path, "/")
	}
	return result
}

// isInternalHost reports hostnames no public relay can live on.
func isInternalHost(host string) bool {
	return strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal") ||
		strings.HasSuffix(host, ".onion") ||
		strings.HasSuffix(host, ".localhost")
}

// isLoopbackHost allows local test relays through.
func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
