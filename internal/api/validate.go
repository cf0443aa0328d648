package api

import (
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxTokenLen is the maximum length of a device push token. APNs tokens are
// 64 hex characters; FCM registration tokens run to a few hundred.
const maxTokenLen = 4096

// maxShortStringLen is the maximum length for short identifiers (device ids,
// app versions).
const maxShortStringLen = 128

// deviceIDRe restricts device ids to URL-safe characters since they appear
// in paths.
var deviceIDRe = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

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

// validateDeviceID checks a device id is present and path-safe.
func validateDeviceID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !deviceIDRe.MatchString(value) {
		return field + " must be 1-128 letters, digits, '.', '_', ':' or '-'"
	}
	return ""
}

// validateUUID checks that a string is a well-formed uuid.
func validateUUID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if _, err := uuid.Parse(value); err != nil {
		return field + " is not a valid uuid"
	}
	return ""
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
