package store

import (
	"regexp"
	"strings"
)

const maxIDLen = 40

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeID lower-cases name, replaces each run of characters outside
// [a-z0-9_] with an underscore and truncates to 40 bytes.
func SanitizeID(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = unsafeIDChars.ReplaceAllString(name, "_")
	if len(name) > maxIDLen {
		name = name[:maxIDLen]
	}
	return name
}
