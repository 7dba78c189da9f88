package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxCommentLength bounds decision comments stored in the audit log
const MaxCommentLength = 2000

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	userIDFormat = regexp.MustCompile(`^[A-Za-z0-9._@\-]{1,64}$`)
)

// ValidateUserID checks the shape of a directory user id
func ValidateUserID(id string) error {
	if !userIDFormat.MatchString(id) {
		return fmt.Errorf("invalid user id: %q", id)
	}
	return nil
}

// NormalizeComment strips control characters and surrounding whitespace.
// Newlines and tabs are kept.
func NormalizeComment(s string) string {
	return strings.TrimSpace(SanitizeString(s))
}

// ValidateComment checks an already normalized comment
func ValidateComment(s string) error {
	if n := utf8.RuneCountInString(s); n > MaxCommentLength {
		return fmt.Errorf("comment exceeds %d characters: %d", MaxCommentLength, n)
	}
	return nil
}

// SanitizeString removes control characters other than tab and newlines
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
