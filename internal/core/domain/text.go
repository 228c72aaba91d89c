package domain

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun     = regexp.MustCompile(`\s+`)
	disallowedText    = regexp.MustCompile(`[^\p{L}\p{N}_\s.,;:!?\-()\[\]"'/@#$%&*+=]`)
	disallowedMetaVal = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.,/]`)
)

// CleanText replaces characters outside the allowed punctuation set with a
// space, collapses whitespace runs and trims.
func CleanText(text string) string {
	text = disallowedText.ReplaceAllString(text, " ")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SanitizeMetadataValue makes a value safe for vector store metadata. An empty
// result becomes "unknown".
func SanitizeMetadataValue(value string) string {
	value = strings.TrimSpace(disallowedMetaVal.ReplaceAllString(value, "_"))
	if value == "" {
		return "unknown"
	}
	return value
}

func SanitizeMetadata(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = SanitizeMetadataValue(v)
	}
	return out
}
