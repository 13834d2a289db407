package ocr

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	// Fill-in ruling: the dotted/underscored answer lines printed on intake
	// forms, picked up when a field was left blank or half filled.
	reRulingLine   = regexp.MustCompile(`(?m)^\s*[_\-.]{3,}\s*$`)
	reRulingInline = regexp.MustCompile(`_{3,}`)
)

// Normalize collapses noisy whitespace and strips form ruling artifacts.
// Conservative: keeps line breaks; collapses >2 newlines into a single blank
// line. Character-level corrections are left to the per-field validators,
// which know what the field may contain.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reRulingLine.ReplaceAllString(s, "")
	s = reRulingInline.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(s)
}

// CollapseToLine flattens recognized text onto a single line. Single-line
// fields sometimes OCR as two fragments when the crop clips a descender row;
// the value is still one line.
func CollapseToLine(s string) string {
	s = reRulingInline.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
