// Package tokens estimates token counts for prompts and generated text
// without a model-specific tokenizer.
package tokens

import "unicode"

const (
	cjkCharsPerToken   = 1.5
	otherCharsPerToken = 4.0
)

// Estimate approximates the number of tokens in text. CJK ideographs are
// denser than other scripts, so the two are counted separately. Non-empty
// text always counts as at least one token.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	cjk, other := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			cjk++
		} else {
			other++
		}
	}

	n := int(float64(cjk)/cjkCharsPerToken + float64(other)/otherCharsPerToken)
	if n < 1 {
		return 1
	}
	return n
}

// CharsFor returns roughly how many non-CJK characters make up n tokens
func CharsFor(n int) int {
	return int(float64(n) * otherCharsPerToken)
}
