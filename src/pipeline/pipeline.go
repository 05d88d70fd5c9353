// Package pipeline runs capture -> OCR -> normalize -> (chunk) -> translate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"screen-ocr-translate/src/chunker"
	"screen-ocr-translate/src/ocr"
	"screen-ocr-translate/src/screenshot"
	"screen-ocr-translate/src/textnorm"
	"screen-ocr-translate/src/translate"
)

const (
	OCRErrorMarker         = "OCR Error: "
	TranslationErrorMarker = "Translation failed: "
	noTextMarker           = "No text detected"

	defaultOCRDeadline       = 20 * time.Second
	defaultTranslateDeadline = 60 * time.Second
)

// ErrNotTranslatable is returned for empty text or text that is itself an error marker.
var ErrNotTranslatable = errors.New("nothing to translate")

type Stage string

const (
	StageOCR       Stage = "ocr"
	StageTranslate Stage = "translate"
)

// Error tags a failure with the stage it happened in. Its message is the
// user-facing marker string for that stage.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == StageOCR {
		return OCRErrorMarker + e.Err.Error()
	}
	return TranslationErrorMarker + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsMarker reports whether s is an error marker rather than recognized text.
func IsMarker(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, strings.TrimSpace(OCRErrorMarker)) ||
		strings.HasPrefix(s, strings.TrimSpace(TranslationErrorMarker)) ||
		strings.HasPrefix(s, noTextMarker)
}

type CaptureFunc func(ctx context.Context, region screenshot.Region) ([]byte, error)

type Pipeline struct {
	Capture           CaptureFunc
	Recognizer        ocr.Recognizer
	Translator        translate.Translator
	MaxChunk          int
	OCRDeadline       time.Duration
	TranslateDeadline time.Duration
}

type Result struct {
	Raw         string   `json:"raw"`
	Clean       string   `json:"clean"`
	Chunks      []string `json:"chunks,omitempty"`
	Translation string   `json:"translation,omitempty"`
	// Unchanged is set when translation was skipped because Clean matched Request.Previous.
	Unchanged bool `json:"unchanged,omitempty"`
}

// Request describes one unit of work for Process.
type Request struct {
	Region    screenshot.Region
	Translate bool
	Chunked   bool
	// Previous, when non-empty, is the last clean text seen for this region;
	// an identical extraction is returned without translating again.
	Previous string
}

// Extract captures region and returns the raw and normalized OCR text.
func (p *Pipeline) Extract(ctx context.Context, region screenshot.Region) (Result, error) {
	if p.Capture == nil {
		return Result{}, &Error{Stage: StageOCR, Err: errors.New("no capture function configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, orDefault(p.OCRDeadline, defaultOCRDeadline))
	defer cancel()

	log.Printf("Pipeline: capturing region %s", region)
	img, err := withDeadline(ctx, func() ([]byte, error) { return p.Capture(ctx, region) })
	if err != nil {
		return Result{}, &Error{Stage: StageOCR, Err: fmt.Errorf("capture: %w", err)}
	}
	return p.recognize(ctx, img)
}

// ExtractImage runs OCR on an already captured PNG.
func (p *Pipeline) ExtractImage(ctx context.Context, png []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(p.OCRDeadline, defaultOCRDeadline))
	defer cancel()
	return p.recognize(ctx, png)
}

func (p *Pipeline) recognize(ctx context.Context, png []byte) (Result, error) {
	if p.Recognizer == nil {
		return Result{}, &Error{Stage: StageOCR, Err: errors.New("no OCR backend configured")}
	}
	start := time.Now()
	raw, err := withDeadline(ctx, func() (string, error) { return p.Recognizer.Recognize(ctx, png) })
	if err != nil {
		return Result{}, &Error{Stage: StageOCR, Err: err}
	}
	clean := textnorm.Normalize(raw)
	log.Printf("Pipeline: OCR %d runes raw, %d clean in %v", len([]rune(raw)), len([]rune(clean)), time.Since(start))
	if clean == "" {
		return Result{Raw: raw}, &Error{Stage: StageOCR, Err: ocr.ErrNoText}
	}
	return Result{Raw: raw, Clean: clean}, nil
}

// Translate sends clean text to the translator, whole or chunked, and returns
// the translation and the chunks that were sent.
func (p *Pipeline) Translate(ctx context.Context, clean string, chunked bool) (string, []string, error) {
	if strings.TrimSpace(clean) == "" || IsMarker(clean) {
		return "", nil, &Error{Stage: StageTranslate, Err: ErrNotTranslatable}
	}
	if p.Translator == nil {
		return "", nil, &Error{Stage: StageTranslate, Err: errors.New("no translator configured")}
	}

	chunks := []string{clean}
	if chunked {
		chunks = chunker.Split(clean, p.MaxChunk)
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(p.TranslateDeadline, defaultTranslateDeadline))
	defer cancel()

	start := time.Now()
	out, err := withDeadline(ctx, func() (string, error) { return translate.Chunks(ctx, p.Translator, chunks) })
	if err != nil {
		return "", chunks, &Error{Stage: StageTranslate, Err: err}
	}
	log.Printf("Pipeline: translated %d chunk(s) in %v", len(chunks), time.Since(start))
	return out, chunks, nil
}

// Run performs Extract followed by Translate.
func (p *Pipeline) Run(ctx context.Context, region screenshot.Region, chunked bool) (Result, error) {
	return p.Process(ctx, Request{Region: region, Translate: true, Chunked: chunked})
}

// Process extracts req.Region and, when asked to, translates the result.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	res, err := p.Extract(ctx, req.Region)
	if err != nil || !req.Translate {
		return res, err
	}
	if req.Previous != "" && res.Clean == req.Previous {
		res.Unchanged = true
		return res, nil
	}
	res.Translation, res.Chunks, err = p.Translate(ctx, res.Clean, req.Chunked)
	return res, err
}

// withDeadline runs fn in its own goroutine so a backend that ignores ctx
// still cannot hold the caller past the deadline.
func withDeadline[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn()
		ch <- outcome{v, err}
	}()
	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
