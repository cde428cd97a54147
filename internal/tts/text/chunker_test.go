// Package text_test tests sentence-aware text chunking.
package text_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/book-expert/llm-gateway/internal/tts/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentences builds count sentences of roughly the same length.
func sentences(count int) string {
	parts := make([]string, 0, count)

	for i := range count {
		parts = append(parts, strings.Repeat("word ", 5+i%3)+"end.")
	}

	return strings.Join(parts, " ")
}

// squash drops all whitespace so chunk output can be compared with its input.
func squash(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestSplitIntoChunks_ShortTextIsReturnedUnchanged(t *testing.T) {
	t.Parallel()

	input := "  Hello there.  "

	chunks := text.SplitIntoChunks(input, text.DefaultMaxChars)

	require.Len(t, chunks, 1)
	assert.Equal(t, input, chunks[0], "text within the limit must not be trimmed")
}

func TestSplitIntoChunks_ExactlyAtLimit(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("a", 240)

	chunks := text.SplitIntoChunks(input, 240)

	assert.Equal(t, []string{input}, chunks)
}

func TestSplitIntoChunks_TwoSentencesOverLimit(t *testing.T) {
	t.Parallel()

	first := strings.Repeat("a", 149) + "."
	second := strings.Repeat("b", 148) + "."
	input := first + " " + second

	require.Equal(t, 300, utf8.RuneCountInString(input))

	chunks := text.SplitIntoChunks(input, 240)

	assert.Equal(t, []string{first, second}, chunks)
}

func TestSplitIntoChunks_RespectsLimitAndKeepsEverything(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		maxChars int
	}{
		{name: "many sentences", input: sentences(40), maxChars: 240},
		{name: "tight limit", input: sentences(25), maxChars: 60},
		{name: "mixed punctuation", input: "Is it? Yes! It is... Really. " + sentences(10), maxChars: 50},
		{name: "no trailing space", input: sentences(12) + " Final!", maxChars: 80},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			chunks := text.SplitIntoChunks(testCase.input, testCase.maxChars)

			require.NotEmpty(t, chunks)

			for _, chunk := range chunks {
				assert.NotEmpty(t, chunk)
				assert.Equal(t, strings.TrimSpace(chunk), chunk)
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), testCase.maxChars, chunk)
			}

			assert.Equal(t, squash(testCase.input), squash(strings.Join(chunks, " ")))
		})
	}
}

func TestSplitIntoChunks_LongSentenceFallsBackToWords(t *testing.T) {
	t.Parallel()

	input := strings.TrimSpace(strings.Repeat("lorem ipsum ", 40)) + "."

	chunks := text.SplitIntoChunks(input, 50)

	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 50)
		assert.False(t, strings.HasPrefix(chunk, "sum"), "words must not be cut: %q", chunk)
	}

	assert.Equal(t, squash(input), squash(strings.Join(chunks, " ")))
}

func TestSplitIntoChunks_OversizedWordIsKeptWhole(t *testing.T) {
	t.Parallel()

	word := strings.Repeat("x", 30)
	input := "short words here " + word + " tail words."

	chunks := text.SplitIntoChunks(input, 20)

	assert.Contains(t, chunks, word)
	assert.Equal(t, squash(input), squash(strings.Join(chunks, " ")))
}

func TestSplitIntoChunks_CountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	// 10 two-byte runes: 20 bytes but only 10 characters.
	input := strings.Repeat("ż", 10)

	chunks := text.SplitIntoChunks(input, 10)

	assert.Equal(t, []string{input}, chunks)
}

func TestSplitIntoChunks_NonPositiveLimitDisablesSplitting(t *testing.T) {
	t.Parallel()

	input := sentences(5)

	assert.Equal(t, []string{input}, text.SplitIntoChunks(input, 0))
}
