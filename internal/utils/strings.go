package utils

import (
	"net/mail"
	"strings"
)

func NormalizeString(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeEmail lowercases and trims, which is the form collaborators are keyed by.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CollapseSpaces replaces every whitespace run with a single space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsValidEmail accepts a bare address with a dotted domain. Display-name forms
// such as "Bob <bob@x.com>" are rejected since collaborators are stored by address.
func IsValidEmail(email string) bool {
	normalized := NormalizeEmail(email)
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return false
	}
	at := strings.LastIndexByte(normalized, '@')
	domain := normalized[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}
