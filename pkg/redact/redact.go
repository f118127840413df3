package redact

import (
	"regexp"
)

// Patterns that may carry credentials in log lines, DLQ reasons and audit
// error strings. Matched values are replaced before anything is written or
// persisted.
var secretPatterns = []*regexp.Regexp{
	// key=value style assignments
	regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key|auth)\s*[=:]\s*[^\s"',;&]+`),
	// Authorization headers
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/]+=*`),
	// vendor-style secret prefixes
	regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{8,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`),
}

var keyValuePattern = regexp.MustCompile(`(?i)^(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key|auth)\s*[=:]`)

const placeholder = "[REDACTED]"

// String replaces every recognized secret pattern in s with a placeholder.
func String(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			if loc := keyValuePattern.FindStringIndex(match); loc != nil {
				return match[:loc[1]] + placeholder
			}
			return placeholder
		})
	}
	return s
}

// Error redacts an error's message. A nil error yields an empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Contains reports whether s matches any recognized secret pattern. Useful
// for tests and for deciding whether a value is safe to persist verbatim.
func Contains(s string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
