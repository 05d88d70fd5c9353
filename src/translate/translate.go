// Package translate sends cleaned Japanese text to a local LLM for English translation.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ErrEmptyResponse is returned when the model answers with nothing but whitespace.
var ErrEmptyResponse = errors.New("translator returned an empty response")

// Translator turns Japanese text into English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// TranslatorFunc adapts a plain function to Translator.
type TranslatorFunc func(ctx context.Context, text string) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Chunks translates each chunk in order, one call per chunk, and joins the
// results with newlines. Blank chunks are skipped. The first failure aborts.
func Chunks(ctx context.Context, t Translator, chunks []string) (string, error) {
	out := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		translated, err := t.Translate(ctx, chunk)
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		log.Printf("Translate: chunk %d/%d done (%d runes in)", i+1, len(chunks), len([]rune(chunk)))
		out = append(out, translated)
	}
	return strings.Join(out, "\n"), nil
}
