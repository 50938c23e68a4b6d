// Package bootstrap provides the small set of well-known relay
// endpoints and the admin-app base URL the worker consults before any
// configuration has been fetched from the overlay.
package bootstrap

import (
	"os"
	"strings"
)

// DefaultRelays are used when BOOTSTRAP_RELAYS is unset.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

// DefaultAdminAppURL is used when DVM_ADMIN_APP_URL is unset.
const DefaultAdminAppURL = "https://dvm-admin.example.com"

// Relays returns the bootstrap relay list from BOOTSTRAP_RELAYS
// (comma-separated) or the hard-coded defaults.
func Relays() []string {
	if raw := os.Getenv("BOOTSTRAP_RELAYS"); raw != "" {
		return splitAndTrim(raw)
	}
	out := make([]string, len(DefaultRelays))
	copy(out, DefaultRelays)
	return out
}

// AdminAppURL returns the admin-app base URL from DVM_ADMIN_APP_URL or
// the default.
func AdminAppURL() string {
	if url := os.Getenv("DVM_ADMIN_APP_URL"); url != "" {
		return url
	}
	return DefaultAdminAppURL
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
