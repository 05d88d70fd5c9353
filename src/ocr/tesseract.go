//go:build tesseract

package ocr

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"screen-ocr-translate/src/config"
	"screen-ocr-translate/src/screenshot"
)

// Tesseract recognizes text locally. A fresh gosseract client is used per
// call because clients are not safe for concurrent use.
type Tesseract struct {
	Lang string
}

func NewTesseract(lang string) (Recognizer, error) {
	if lang == "" {
		lang = config.DefaultTesseractLang
	}
	return &Tesseract{Lang: lang}, nil
}

func (t *Tesseract) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prepared, err := screenshot.Prepare(png)
	if err != nil {
		log.Printf("OCR: preprocessing failed, using original image: %v", err)
		prepared = png
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(strings.Split(t.Lang, "+")...); err != nil {
		return "", fmt.Errorf("tesseract language %q: %w", t.Lang, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("tesseract page mode: %w", err)
	}
	if err := client.SetImageFromBytes(prepared); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
