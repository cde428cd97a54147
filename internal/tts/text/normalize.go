package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Patterns for page text cleanup.
const (
	referenceRegexPattern   = `\[\d+(?:[,–-]\s*\d+)*\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	hyphenBreakRegexPattern = `(\p{L})-[ \t]*\r?\n[ \t]*(\p{Ll})`
	repeatedPunctPattern    = `([!?,;:])[!?,;:]+`
	spaceBeforePunctPattern = ` +([.,;:!?])`
)

var (
	referencePattern       = regexp.MustCompile(referenceRegexPattern)
	hyphenBreakPattern     = regexp.MustCompile(hyphenBreakRegexPattern)
	repeatedPunctuation    = regexp.MustCompile(repeatedPunctPattern)
	spaceBeforePunctuation = regexp.MustCompile(spaceBeforePunctPattern)
	typographyReplacer     = strings.NewReplacer(
		"—", " - ",
		"–", "-",
		"‒", "-",
		"…", "...",
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		"\u00a0", " ",
		"\u00ad", "",
	)
)

// NormalizePage prepares extracted page text for synthesis: words hyphenated
// across line breaks are joined, reference markers such as [12] or ¹ are
// removed, typographic quotes and dashes become ASCII and whitespace is
// collapsed. Text that does not end a sentence gets a final period so the
// last words are not clipped.
func NormalizePage(page string) string {
	page = hyphenBreakPattern.ReplaceAllString(page, "$1$2")
	page = typographyReplacer.Replace(page)
	page = referencePattern.ReplaceAllString(page, "")
	page = whitespacePattern.ReplaceAllString(page, " ")
	page = spaceBeforePunctuation.ReplaceAllString(page, "$1")
	page = repeatedPunctuation.ReplaceAllString(page, "$1")

	return endSentence(strings.TrimSpace(page))
}

func endSentence(text string) string {
	if text == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(text)

	switch {
	case last == '.' || last == '!' || last == '?':
		return text
	case last == '"' || last == '\'' || last == ')':
		return text
	case unicode.IsPunct(last):
		return strings.TrimRightFunc(text, unicode.IsPunct) + "."
	default:
		return text + "."
	}
}
