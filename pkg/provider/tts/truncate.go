package tts

import (
	"context"
	"unicode/utf8"
)

// Truncate wraps c so fragments longer than maxChars are cut before
// synthesis. maxChars <= 0 returns c unchanged.
func Truncate(c Client, maxChars int) Client {
	if maxChars <= 0 {
		return c
	}
	return &truncating{next: c, maxChars: maxChars}
}

type truncating struct {
	next     Client
	maxChars int
}

func (t *truncating) Synthesize(ctx context.Context, text string, format Format) ([]byte, error) {
	if utf8.RuneCountInString(text) > t.maxChars {
		runes := []rune(text)
		text = string(runes[:t.maxChars])
	}
	return t.next.Synthesize(ctx, text, format)
}
