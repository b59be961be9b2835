package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns the content as a single section, validating it is
// valid UTF-8. Invalid sequences are replaced with the replacement character.
// Whitespace-only content yields zero sections.
func extractPlain(content []byte) ([]string, error) {
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "�"))
	}
	return nonEmpty([]string{string(content)}), nil
}
