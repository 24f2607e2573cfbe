package browser

import (
	"fmt"
	"strings"
)

const (
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// TextXPath builds an XPath matching the innermost element whose visible
// text contains text, ignoring case and collapsing whitespace.
func TextXPath(text string) string {
	needle := xpathLiteral(strings.ToUpper(strings.Join(strings.Fields(text), " ")))
	norm := fmt.Sprintf("translate(normalize-space(string(.)), '%s', '%s')", lowerASCII, upperASCII)
	match := fmt.Sprintf("contains(%s, %s)", norm, needle)

	return fmt.Sprintf(
		"//body/descendant-or-self::*[not(self::script or self::style)][%s][not(.//*[not(self::script or self::style)][%s])]",
		match, match,
	)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if part != "" {
			quoted = append(quoted, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
