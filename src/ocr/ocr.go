// Package ocr turns captured screen images into raw Japanese text.
package ocr

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"screen-ocr-translate/src/config"
	"screen-ocr-translate/src/llm"
)

// ErrNoText is returned when the engine finds nothing to read.
var ErrNoText = llm.ErrNoText

// Recognizer extracts raw text from a PNG image.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// RecognizerFunc adapts a plain function to Recognizer.
type RecognizerFunc func(ctx context.Context, png []byte) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, png []byte) (string, error) {
	return f(ctx, png)
}

// New builds the recognizer selected by cfg.OCRBackend.
func New(cfg *config.Config) (Recognizer, error) {
	switch cfg.OCRBackend {
	case config.BackendTesseract:
		return NewTesseract(cfg.TesseractLang)
	case config.BackendVision, "":
		client, err := llm.New(llm.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.OCRModel,
			Providers: cfg.Providers,
		})
		if err != nil {
			return nil, fmt.Errorf("vision OCR: %w", err)
		}
		return &Vision{Client: client, SaveDebugImages: cfg.SaveDebugImages}, nil
	default:
		return nil, fmt.Errorf("unknown OCR backend %q", cfg.OCRBackend)
	}
}

// VisionQuerier is the part of llm.Client the vision backend needs.
type VisionQuerier interface {
	QueryVision(ctx context.Context, png []byte) (string, error)
}

// Vision recognizes text with a remote vision LLM.
type Vision struct {
	Client          VisionQuerier
	SaveDebugImages bool
}

func (v *Vision) Recognize(ctx context.Context, png []byte) (string, error) {
	if v.SaveDebugImages {
		saveDebugImage(png)
	}
	start := time.Now()
	text, err := v.Client.QueryVision(ctx, png)
	if err != nil {
		return "", err
	}
	log.Printf("OCR: vision returned %d bytes in %v", len(text), time.Since(start))
	return text, nil
}

func saveDebugImage(png []byte) {
	name := fmt.Sprintf("debug_captured_region_%d.png", time.Now().UnixNano())
	if err := os.WriteFile(name, png, 0600); err != nil {
		log.Printf("OCR: could not save debug image: %v", err)
		return
	}
	log.Printf("OCR: saved captured region to %s (size: %d bytes)", name, len(png))
}
