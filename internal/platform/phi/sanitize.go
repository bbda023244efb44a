package phi

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	scriptBlockPattern  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	scriptTagPattern    = regexp.MustCompile(`(?i)</?script\b[^>]*>?`)
	jsURIPattern        = regexp.MustCompile(`(?i)javascript\s*:`)
	// Handlers only count inside a tag, so prose such as "onion=3" is kept.
	eventHandlerPattern = regexp.MustCompile(`(?i)(<[a-z][^<>]*?\s)on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)

	// scriptPatterns is the detection form used to reject requests outright.
	scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|<[a-z][^<>]*\son[a-z]+\s*=)`)
)

// SanitizeFreeText strips script blocks, stray script tags, javascript:
// URIs, event handler attributes inside tags and control characters (other than \n, \r and
// \t), then trims surrounding whitespace. The passes repeat until nothing
// changes, so SanitizeFreeText(SanitizeFreeText(s)) == SanitizeFreeText(s).
func SanitizeFreeText(input string) string {
	s := input
	for {
		next := sanitizePass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func sanitizePass(s string) string {
	s = stripControl(s)
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = scriptTagPattern.ReplaceAllString(s, "")
	s = jsURIPattern.ReplaceAllString(s, "")
	s = eventHandlerPattern.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

func stripControl(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ContainsScriptInjection reports whether s carries a script tag, a
// javascript: URI or an event handler attribute inside a tag.
func ContainsScriptInjection(s string) bool {
	return scriptPatterns.MatchString(s)
}
