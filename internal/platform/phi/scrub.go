package phi

import "regexp"

// Scrub patterns are applied in order. Cards run before SSNs and phones so
// a long digit run is not split into a phone number and a remainder.
var scrubRules = []struct {
	pattern *regexp.Regexp
	token   string
}{
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`), "[CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`(?:\+?1[\-. ]?)?(?:\(\d{3}\)|\b\d{3})[\-. ]?\d{3}[\-. ]?\d{4}\b`), "[PHONE]"},
}

// ScrubMessage replaces email addresses, card numbers, SSNs and phone
// numbers in msg with placeholder tokens. Used on every message that may be
// echoed back to a client.
func ScrubMessage(msg string) string {
	for _, rule := range scrubRules {
		msg = rule.pattern.ReplaceAllString(msg, rule.token)
	}
	return msg
}
