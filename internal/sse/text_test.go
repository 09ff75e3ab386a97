package sse

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notice = "\n\n[truncated]"

func TestTruncate_ShortTextUntouched(t *testing.T) {
	out, cut := Truncate("Hi there", 100, notice)
	assert.False(t, cut)
	assert.Equal(t, "Hi there", out)
}

func TestTruncate_ExactLimitUntouched(t *testing.T) {
	out, cut := Truncate("12345", 5, notice)
	assert.False(t, cut)
	assert.Equal(t, "12345", out)
}

func TestTruncate_CutsAtSentenceBoundary(t *testing.T) {
	text := "First sentence. Second sentence! Third one runs past the limit"
	out, cut := Truncate(text, 40, notice)
	require.True(t, cut)
	assert.Equal(t, "First sentence. Second sentence!"+notice, out)
}

func TestTruncate_IgnoresDecimalPoints(t *testing.T) {
	text := "Pi is 3.14159 and more digits follow"
	out, cut := Truncate(text, 12, notice)
	require.True(t, cut)
	assert.Equal(t, "Pi is 3.1415"+notice, out)
}

func TestTruncate_DecimalAtCutIsNotBoundary(t *testing.T) {
	out, cut := Truncate("Intro here. Pi is 3.14159 and more", 20, "[N]")
	require.True(t, cut)
	assert.Equal(t, "Intro here.[N]", out)
}

func TestTruncate_SentenceEndingAtCut(t *testing.T) {
	out, cut := Truncate("One. Two. Three more words", 9, "[N]")
	require.True(t, cut)
	assert.Equal(t, "One. Two.[N]", out)
}

func TestTruncate_NewlineIsBoundary(t *testing.T) {
	text := "line one\nline two keeps going"
	out, _ := Truncate(text, 15, notice)
	assert.Equal(t, "line one\n"+notice, out)
}

func TestTruncate_NeverExceedsBoundPlusNotice(t *testing.T) {
	inputs := []string{
		strings.Repeat("word ", 500),
		strings.Repeat("Sentence here. ", 200),
		strings.Repeat("日本語。", 300),
		strings.Repeat("x", 3000),
	}
	for _, in := range inputs {
		for _, limit := range []int{1, 7, 100, 999} {
			out, cut := Truncate(in, limit, notice)
			require.True(t, cut)
			assert.LessOrEqual(t, utf8.RuneCountInString(out), limit+utf8.RuneCountInString(notice))
			assert.True(t, strings.HasSuffix(out, notice))
			assert.True(t, utf8.ValidString(out))
		}
	}
}

func TestChunk_ReconstructsText(t *testing.T) {
	text := strings.Repeat("héllo wörld ✓ ", 123)
	for _, size := range []int{1, 3, 25, 500, 10000} {
		chunks := Chunk(text, size)
		assert.Equal(t, text, strings.Join(chunks, ""), "size=%d", size)
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c))
			assert.LessOrEqual(t, utf8.RuneCountInString(c), size)
		}
	}
}

func TestChunk_Sizes(t *testing.T) {
	assert.Nil(t, Chunk("", 10))
	assert.Equal(t, []string{"abc"}, Chunk("abc", 0))
	assert.Equal(t, []string{"ab", "cd", "e"}, Chunk("abcde", 2))
	assert.Equal(t, []string{"abcd"}, Chunk("abcd", 4))
}
