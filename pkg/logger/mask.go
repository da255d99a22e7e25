package logger

import (
	"regexp"
	"strings"
)

var (
	reURICreds = regexp.MustCompile(`(?i)(mongodb(?:\+srv)?://)([^:/@]+):([^@]+)(@)`)
	rePassword = regexp.MustCompile(`(?i)(password=)([^\s;&]+)`)
	reAPIKey   = regexp.MustCompile(`(?i)(api[_-]?key=|bearer\s+)([A-Za-z0-9._-]+)`)
)

// Mask replaces credentials embedded in connection strings, DSNs and error
// messages with "***" so they never reach logs or user-facing responses.
func Mask(s string) string {
	out := reURICreds.ReplaceAllString(s, "${1}***:***${4}")
	out = rePassword.ReplaceAllString(out, "${1}***")
	out = reAPIKey.ReplaceAllString(out, "${1}***")
	return out
}

// MaskAll applies Mask to every element and returns the masked copy.
func MaskAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	masked := make([]string, len(values))
	for i, v := range values {
		masked[i] = Mask(v)
	}
	return masked
}

// ContainsCredential reports whether the string still looks like it carries
// a credential after masking. Used by tests and defensive render paths.
func ContainsCredential(s string) bool {
	lower := strings.ToLower(s)
	return reURICreds.MatchString(s) || strings.Contains(lower, "password=")
}
