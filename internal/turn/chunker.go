package turn

import "strings"

// maxFragmentChars bounds a fragment when punctuation is sparse, keeping
// worst-case first-audio latency in check.
const maxFragmentChars = 60

// terminalPunct are the characters that close a prosodic unit.
const terminalPunct = ".?!\n"

// Fragment is one synthesis-ready slice of the token stream. Text is
// whitespace-trimmed and never empty; Seq starts at 1 and is contiguous.
type Fragment struct {
	Seq  int
	Text string
}

// Chunker splits an incoming token stream into synthesis-sized fragments.
// A fragment closes at the first terminal punctuation character or when the
// buffer reaches maxFragmentChars. Not safe for concurrent use; the token
// producer owns it.
type Chunker struct {
	buf []rune
	seq int
}

// Feed appends one token and returns the fragments it completed, possibly
// none. Fragments that trim to the empty string are dropped without
// consuming a sequence number.
func (c *Chunker) Feed(token string) []Fragment {
	c.buf = append(c.buf, []rune(token)...)

	var out []Fragment
	for {
		cut := -1
		for i, r := range c.buf {
			if strings.ContainsRune(terminalPunct, r) {
				cut = i + 1
				break
			}
		}
		if cut == -1 {
			if len(c.buf) < maxFragmentChars {
				break
			}
			cut = maxFragmentChars
		}
		if f, ok := c.emit(string(c.buf[:cut])); ok {
			out = append(out, f)
		}
		c.buf = c.buf[cut:]
	}
	return out
}

// Flush closes the stream, returning the final fragment built from any
// buffered tail. ok is false when nothing remained.
func (c *Chunker) Flush() (Fragment, bool) {
	f, ok := c.emit(string(c.buf))
	c.buf = c.buf[:0]
	return f, ok
}

func (c *Chunker) emit(raw string) (Fragment, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Fragment{}, false
	}
	c.seq++
	return Fragment{Seq: c.seq, Text: text}, true
}
