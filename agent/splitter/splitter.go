// Package splitter breaks a long reply into short chat bubbles.
package splitter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PackLimit is the rune length a packed bubble stays below.
const PackLimit = 30

func isTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func isComma(r rune) bool {
	return r == '，' || r == ','
}

// Split returns between one and maxCount bubbles whose concatenation keeps
// every non-space character of text in order. Sentences are split further
// at commas when there are fewer than minCount of them.
func Split(text string, minCount, maxCount int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if maxCount < 1 {
		maxCount = 1
	}

	segments := cut(trimmed, isTerminal)
	if len(segments) < minCount {
		var finer []string
		for _, s := range segments {
			finer = append(finer, cut(s, isComma)...)
		}
		segments = finer
	}
	for i, s := range segments {
		segments[i] = collapseTail(s)
	}

	// Bubbles keep their separating space until the final trim so merged
	// neighbours do not run together.
	bubbles := pack(segments)
	for len(bubbles) > maxCount {
		bubbles = mergeSmallestPair(bubbles)
	}
	bubbles = compact(bubbles)
	if len(bubbles) == 0 {
		return []string{trimmed}
	}
	return bubbles
}

// collapseTail reduces trailing whitespace to a single space.
func collapseTail(segment string) string {
	t := strings.TrimRightFunc(segment, unicode.IsSpace)
	if t == segment {
		return segment
	}
	return t + " "
}

// cut splits after every run of boundary runes. Whitespace following a
// boundary stays with the preceding segment; trailing text without a
// boundary forms the last segment.
func cut(text string, boundary func(rune) bool) []string {
	var (
		out   []string
		start int
	)
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !boundary(r) {
			i += size
			continue
		}
		i += size
		for i < len(text) {
			next, nsize := utf8.DecodeRuneInString(text[i:])
			if !boundary(next) && !unicode.IsSpace(next) {
				break
			}
			i += nsize
		}
		out = append(out, text[start:i])
		start = i
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func pack(segments []string) []string {
	var (
		out     []string
		current string
	)
	for _, s := range segments {
		switch {
		case current == "":
			current = s
		case utf8.RuneCountInString(current)+utf8.RuneCountInString(s) < PackLimit:
			current += s
		default:
			out = append(out, current)
			current = s
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func compact(bubbles []string) []string {
	out := bubbles[:0]
	for _, b := range bubbles {
		if t := strings.TrimSpace(b); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func mergeSmallestPair(bubbles []string) []string {
	best := 0
	bestLen := -1
	for i := 0; i+1 < len(bubbles); i++ {
		n := utf8.RuneCountInString(bubbles[i]) + utf8.RuneCountInString(bubbles[i+1])
		if bestLen < 0 || n < bestLen {
			best, bestLen = i, n
		}
	}
	merged := make([]string, 0, len(bubbles)-1)
	merged = append(merged, bubbles[:best]...)
	merged = append(merged, bubbles[best]+bubbles[best+1])
	return append(merged, bubbles[best+2:]...)
}
