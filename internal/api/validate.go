package api

import (
	"net"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxNameLen is the maximum length for name fields.
const maxNameLen = 200

// maxShortStringLen is the maximum length for short identifiers like
// extensions and phone numbers.
const maxShortStringLen = 40

// maxEmailLen is the maximum length for email addresses (RFC 5321).
const maxEmailLen = 254

// emailRe is a basic email format regex. Not exhaustive; validates structure only.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// extensionRe validates extension numbers: digits only, 1-20 chars.
var extensionRe = regexp.MustCompile(`^\d{1,20}$`)

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateEmail checks that a string is a valid-looking email address.
func validateEmail(field, value string) string {
	if value == "" {
		return ""
	}
	if len(value) > maxEmailLen {
		return field + " exceeds maximum length"
	}
	if !emailRe.MatchString(value) {
		return field + " is not a valid email address"
	}
	return ""
}

// validateExtensionNumber checks that an extension number is digits only.
func validateExtensionNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !extensionRe.MatchString(value) {
		return field + " must contain only digits (max 20)"
	}
	return ""
}

// validateChannelName checks an originate channel like PJSIP/101: exactly
// one technology separator and no whitespace.
func validateChannelName(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if strings.Count(value, "/") != 1 || strings.ContainsAny(value, " \t\n\r") {
		return field + " must look like PJSIP/101"
	}
	return validateStringLen(field, value, maxNameLen)
}

// validateIPList checks that each comma-separated entry is a valid IP or CIDR.
func validateIPList(field, list string) string {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return field + " has an entry that is not a valid IP or CIDR"
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return field + " has an entry that is not a valid IP address"
		}
	}
	return ""
}
