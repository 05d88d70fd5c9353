// Package textnorm cleans raw Japanese OCR output before it is shown or translated.
//
// Only whitespace, punctuation and recognizer artifacts are touched; the characters
// and word order of the source text are kept.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	kanaClass = `[\x{3041}-\x{3096}\x{30A1}-\x{30FA}]`
	cjkClass  = `[\x{3041}-\x{3096}\x{30A1}-\x{30FA}\x{4E00}-\x{9FFF}]`
	wsClass   = `[\s\v\p{Zs}\x{85}\x{2028}\x{2029}]`

	// gapSep separates an edge fragment from the text: a line break, tab or
	// ideographic space, or at least two whitespace characters. A lone ASCII
	// space is not enough, since normalized output uses exactly that.
	gapSep = `(?:` + wsClass + `*[\t\n\v\f\r\x{3000}\x{85}\x{2028}\x{2029}]` + wsClass + `*|` + wsClass + `{2,})`

	// maxPasses bounds the fixed-point loop in Normalize. Real input settles in two.
	maxPasses = 8
)

var (
	trailingFragment = regexp.MustCompile(`(?:^` + wsClass + `*|` + gapSep + `)` + kanaClass + `{1,2}` + wsClass + `*$`)
	leadingFragment  = regexp.MustCompile(`^` + wsClass + `*` + kanaClass + `{1,2}(?:` + gapSep + `|` + wsClass + `*$)`)
	dashRun          = regexp.MustCompile(`[\x{FF5E}\x{301C}\x{2026}\x{2025}]{2,}`)
	wideSpaceRun     = regexp.MustCompile(wsClass + `{2,}`)
	spaceAfterPunct  = regexp.MustCompile(`([、。！？])` + wsClass + `+`)
	spaceBeforePunct = regexp.MustCompile(wsClass + `+([、。！？])`)
	anySpaceRun      = regexp.MustCompile(wsClass + `+`)
	sentenceBoundary = regexp.MustCompile(`([。！？])(` + cjkClass + `)`)
)

// Normalize converts raw OCR text into clean text. It never fails; empty or
// garbage input simply yields a (possibly empty) string.
//
// The cleanup steps run in a fixed order and are repeated until the output stops
// changing, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	out := raw
	for i := 0; i < maxPasses; i++ {
		next := normalizeOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func normalizeOnce(text string) string {
	// Edge fragments are frame borders or UI chrome read as kana.
	text = trailingFragment.ReplaceAllString(text, " ")
	text = leadingFragment.ReplaceAllString(text, " ")

	text = dashRun.ReplaceAllString(text, " ")
	text = wideSpaceRun.ReplaceAllString(text, " ")

	text = punctuationReplacer.Replace(text)

	text = joinWrappedLines(text)

	text = spaceAfterPunct.ReplaceAllString(text, "${1}")
	text = spaceBeforePunct.ReplaceAllString(text, "${1}")

	text = capRepeats(text, 2)

	text = anySpaceRun.ReplaceAllString(text, " ")
	text = strings.TrimFunc(text, unicode.IsSpace)

	return sentenceBoundary.ReplaceAllString(text, "${1} ${2}")
}

// joinWrappedLines drops a single line break sitting between two CJK characters.
// Vertical text comes out of the recognizer wrapped at column boundaries.
func joinWrappedLines(text string) string {
	if !strings.ContainsAny(text, "\n\r") {
		return text
	}
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range runes {
		if (r == '\n' || r == '\r') && i > 0 && i+1 < len(runes) && IsCJK(runes[i-1]) && IsCJK(runes[i+1]) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// capRepeats limits runs of the same terminal mark or ideographic comma to limit.
func capRepeats(text string, limit int) string {
	var b strings.Builder
	b.Grow(len(text))
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run > limit && isRepeatCapped(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isRepeatCapped(r rune) bool {
	switch r {
	case '。', '！', '？', '、':
		return true
	}
	return false
}

// IsCJK reports whether r is hiragana, katakana or a CJK unified ideograph.
func IsCJK(r rune) bool {
	return IsKana(r) || (r >= 0x4E00 && r <= 0x9FFF)
}

// IsKana reports whether r is a hiragana or katakana letter.
func IsKana(r rune) bool {
	return (r >= 0x3041 && r <= 0x3096) || (r >= 0x30A1 && r <= 0x30FA)
}
