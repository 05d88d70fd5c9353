// Package chunker splits clean text into translator-sized pieces at sentence
// boundaries.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength is the chunk size, in characters, used when none is configured.
const DefaultMaxLength = 500

// Chunker carries a configured maximum chunk length.
type Chunker struct {
	MaxLength int
}

// New returns a Chunker; maxLength <= 0 selects DefaultMaxLength.
func New(maxLength int) Chunker {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return Chunker{MaxLength: maxLength}
}

// Split splits text using the chunker's maximum length.
func (c Chunker) Split(text string) []string {
	return Split(text, c.MaxLength)
}

// Split breaks text into ordered chunks of at most maxLength characters.
//
// Empty text yields a single empty chunk. Text that already fits is returned
// unchanged as the only chunk. Otherwise sentences are packed greedily, any
// sentence longer than maxLength is cut into maxLength slices, and every chunk is
// trimmed; chunks left empty by trimming are dropped.
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if text == "" {
		return []string{""}
	}
	if utf8.RuneCountInString(text) <= maxLength {
		return []string{text}
	}

	var (
		packed []string
		buf    strings.Builder
		bufLen int
	)
	for _, s := range Sentences(text) {
		if bufLen == 0 {
			s = strings.TrimLeftFunc(s, unicode.IsSpace)
		}
		n := utf8.RuneCountInString(s)
		if bufLen > 0 && bufLen+n > maxLength {
			packed = append(packed, buf.String())
			buf.Reset()
			bufLen = 0
			s = strings.TrimLeftFunc(s, unicode.IsSpace)
			n = utf8.RuneCountInString(s)
		}
		buf.WriteString(s)
		bufLen += n
	}
	if bufLen > 0 {
		packed = append(packed, buf.String())
	}

	chunks := make([]string, 0, len(packed))
	for _, p := range packed {
		for _, piece := range slice(strings.TrimSpace(p), maxLength) {
			if piece = strings.TrimSpace(piece); piece != "" {
				chunks = append(chunks, piece)
			}
		}
	}
	return chunks
}

// Sentences splits text after each run of terminal marks. Closing brackets that
// directly follow the marks stay with their sentence. Candidates made only of
// whitespace are dropped; nothing else is removed.
func Sentences(text string) []string {
	var out []string
	start := 0
	inTerminal := false
	for i, r := range text {
		switch {
		case isTerminal(r):
			inTerminal = true
		case inTerminal && isCloser(r):
		case inTerminal:
			out = appendSentence(out, text[start:i])
			start = i
			inTerminal = false
		}
	}
	return appendSentence(out, text[start:])
}

func appendSentence(out []string, s string) []string {
	if strings.TrimSpace(s) == "" {
		return out
	}
	return append(out, s)
}

// slice cuts s into pieces of at most n runes.
func slice(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	runes := []rune(s)
	out := make([]string, 0, len(runes)/n+1)
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '」', '』', '）', ')', '】', '"', '\'':
		return true
	}
	return false
}
