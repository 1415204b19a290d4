package scanner

import (
	"strings"

	"github.com/thoas/go-funk"
)

// DefaultMissPatterns are the engine messages for a frame without a code in it.
var DefaultMissPatterns = []string{
	"No MultiFormat Readers",
	"QR code not found",
	"NotFoundException",
}

// MergeMissPatterns returns the defaults plus any extra non-empty patterns, without duplicates.
func MergeMissPatterns(extra []string) []string {
	extra = funk.FilterString(extra, func(s string) bool {
		return strings.TrimSpace(s) != ""
	})
	return funk.UniqString(append(append([]string{}, DefaultMissPatterns...), extra...))
}

// classifyFailure tells an expected empty frame apart from an unrecognized engine failure.
func classifyFailure(message string, patterns []string) Category {
	for _, pattern := range patterns {
		if strings.Contains(message, pattern) {
			return CategoryTransientDecodeMiss
		}
	}
	return CategoryUnknown
}
