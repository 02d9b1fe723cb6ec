// -----------------------------------------------------------------------
// Credential lines - stored text forms of a credential secret
// -----------------------------------------------------------------------

package models

import "strings"

// ReasonSeparator splits a stored credential line from its free-text annotation.
const ReasonSeparator = "||"

// NormalizeCredential reduces any stored credential line to its bare secret.
//
// Accepted forms:
//
//	secret
//	secret || reason
//	prefix:prefix:secret
//	prefix:prefix:secret || reason
func NormalizeCredential(line string) string {
	if line == "" {
		return ""
	}
	body := StripReason(line)
	parts := strings.Split(body, ":")
	return strings.TrimSpace(parts[len(parts)-1])
}

// StripReason drops a trailing "|| reason" annotation but keeps any composite prefix.
func StripReason(line string) string {
	body, _, _ := strings.Cut(line, ReasonSeparator)
	return strings.TrimSpace(body)
}

// AnnotateCredential appends reason to a stored line, replacing any previous annotation.
// An empty reason leaves the line untouched.
func AnnotateCredential(line, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return strings.TrimSpace(line)
	}
	return StripReason(line) + " " + ReasonSeparator + " " + reason
}

// SameCredential compares two stored lines by normalized identity.
func SameCredential(a, b string) bool {
	return NormalizeCredential(a) == NormalizeCredential(b)
}

// MaskCredential shortens a secret for log output.
func MaskCredential(credential string) string {
	secret := NormalizeCredential(credential)
	if len(secret) <= 10 {
		return secret
	}
	return secret[:10] + "..."
}
