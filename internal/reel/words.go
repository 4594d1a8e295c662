package reel

import "strings"

// Word is one whitespace-delimited token and its position in the text.
type Word struct {
	Text  string
	Index int
}

// SplitWords tokenizes text on Unicode whitespace. No other segmentation is
// done: punctuation stays attached to its word.
func SplitWords(text string) []Word {
	fields := strings.Fields(text)
	words := make([]Word, len(fields))
	for i, f := range fields {
		words[i] = Word{Text: f, Index: i}
	}
	return words
}

// JoinWords rebuilds the narration text from words, single-space separated.
func JoinWords(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}
