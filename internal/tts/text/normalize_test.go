package text_test

import (
	"testing"

	"github.com/book-expert/llm-gateway/internal/tts/text"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "whitespace only", input: " \n\t ", expected: ""},
		{name: "plain sentence", input: "The cat sat.", expected: "The cat sat."},
		{name: "hyphenated line break", input: "The exam-\nple shows it.", expected: "The example shows it."},
		{name: "compound words kept", input: "A well-known fact", expected: "A well-known fact."},
		{
			name:     "capitalized continuation is not joined",
			input:    "Alsace-\nLorraine was contested.",
			expected: "Alsace- Lorraine was contested.",
		},
		{name: "bracket references", input: "Results vary [3], as noted[4,5].", expected: "Results vary, as noted."},
		{name: "superscript references", input: "Einstein¹ said so", expected: "Einstein said so."},
		{name: "typography", input: "“Hello”—she said…", expected: `"Hello" - she said...`},
		{name: "line breaks collapse", input: "  line one\n\n line two  ", expected: "line one line two."},
		{name: "repeated punctuation", input: "What?!! Wait,,, no", expected: "What? Wait, no."},
		{name: "trailing colon", input: "Chapter 1:", expected: "Chapter 1."},
		{name: "closing quote kept", input: `He said "stop"`, expected: `He said "stop"`},
		{name: "non-breaking space", input: "10\u00a0km away", expected: "10 km away."},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, text.NormalizePage(testCase.input))
		})
	}
}
