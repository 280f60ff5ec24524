// Package redact masks personal data and secrets before they reach logs or
// user-facing hints such as "code sent to j***@example.com".
package redact

import (
	"strings"
	"unicode/utf8"
)

// Email keeps the first rune of the local part and the whole domain:
// "jane@example.com" becomes "j***@example.com". Anything that is not a
// single-@ address collapses to "***".
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") || local == "" {
		return "***"
	}

	first, _ := utf8.DecodeRuneInString(local)
	return string(first) + "***@" + domain
}

// Phone keeps the last four digits: "+61400111234" becomes "********1234".
func Phone(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= 4 {
		return strings.Repeat("*", n)
	}

	runes := []rune(s)
	return strings.Repeat("*", n-4) + string(runes[n-4:])
}

// Destination masks s as an email when it contains an @, else as a phone.
func Destination(s string) string {
	if strings.Contains(s, "@") {
		return Email(s)
	}
	return Phone(s)
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
