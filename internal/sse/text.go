package sse

import (
	"strings"
	"unicode/utf8"
)

// Truncate limits text to maxLen runes. When it has to cut, it backs up to the
// last sentence boundary inside the limit (falling back to a hard cut) and
// appends notice. The result never exceeds maxLen runes plus the notice.
func Truncate(text string, maxLen int, notice string) (string, bool) {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text, false
	}

	runes := []rune(text)
	cut := maxLen
	for i := maxLen - 1; i >= 0; i-- {
		if isSentenceEnd(runes, i) {
			cut = i + 1
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " \t") + notice, true
}

// isSentenceEnd looks at the full text, so a '.' right at the cut is only a
// boundary when the rune after it (kept or not) is whitespace.
func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '\n', '。', '！', '？':
		return true
	case '.', '!', '?':
		// "3.14" and "e.g" are not boundaries.
		if i == len(runes)-1 {
			return true
		}
		switch runes[i+1] {
		case ' ', '\n', '\t':
			return true
		}
	}
	return false
}

// Chunk splits text into pieces of at most size runes without breaking UTF-8
// sequences. A size of 0 or less yields the text as one piece.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}
