// Package text splits long input text into pieces that a speech synthesis
// backend with a hard per-request character limit will accept.
package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars leaves a small margin under the 250 character hard limit
// of XTTS v2.
const DefaultMaxChars = 240

// Sentence boundaries are runs of terminal punctuation followed by whitespace
// or by the end of the text.
const (
	sentenceBoundaryRegexPattern = `[.!?]+\s+|[.!?]+$`
	whitespaceRegexPattern       = `\s+`
)

var (
	sentenceBoundaryPattern = regexp.MustCompile(sentenceBoundaryRegexPattern)
	whitespacePattern       = regexp.MustCompile(whitespaceRegexPattern)
)

// SplitIntoChunks splits text into ordered chunks of at most maxChars
// characters, preferring sentence boundaries and falling back to word
// boundaries for sentences that are too long on their own.
//
// Text that already fits is returned unchanged as a single chunk. Otherwise
// every chunk is trimmed and empty chunks are dropped. A single word longer
// than maxChars is emitted as one oversized chunk; words are never cut.
// A non-positive maxChars disables splitting.
func SplitIntoChunks(text string, maxChars int) []string {
	if maxChars <= 0 || charCount(text) <= maxChars {
		return []string{text}
	}

	var (
		chunks  []string
		current = newAccumulator(maxChars)
	)

	for _, segment := range splitKeepingSeparators(text, sentenceBoundaryPattern) {
		if current.fits(segment) {
			current.add(segment)

			continue
		}

		chunks = current.flush(chunks)

		if charCount(segment) <= maxChars {
			current.add(segment)

			continue
		}

		// The sentence alone is over budget: fall back to words. Whatever is
		// left over after the last full word chunk keeps accumulating.
		for _, word := range splitKeepingSeparators(segment, whitespacePattern) {
			if !current.fits(word) {
				chunks = current.flush(chunks)
			}

			current.add(word)
		}
	}

	return current.flush(chunks)
}

// accumulator collects consecutive segments into one running chunk.
type accumulator struct {
	builder  strings.Builder
	length   int
	maxChars int
}

func newAccumulator(maxChars int) *accumulator {
	return &accumulator{maxChars: maxChars}
}

func (a *accumulator) fits(segment string) bool {
	return a.length+charCount(segment) <= a.maxChars
}

func (a *accumulator) add(segment string) {
	a.builder.WriteString(segment)
	a.length += charCount(segment)
}

// flush appends the trimmed running chunk to chunks, unless it is blank, and
// resets the accumulator.
func (a *accumulator) flush(chunks []string) []string {
	trimmed := strings.TrimSpace(a.builder.String())

	a.builder.Reset()
	a.length = 0

	if trimmed == "" {
		return chunks
	}

	return append(chunks, trimmed)
}

// splitKeepingSeparators splits s around every match of pattern and keeps the
// matches as their own elements, in order.
func splitKeepingSeparators(s string, pattern *regexp.Regexp) []string {
	var (
		parts []string
		last  int
	)

	for _, loc := range pattern.FindAllStringIndex(s, -1) {
		parts = append(parts, s[last:loc[0]], s[loc[0]:loc[1]])
		last = loc[1]
	}

	return append(parts, s[last:])
}

func charCount(s string) int {
	return utf8.RuneCountInString(s)
}
