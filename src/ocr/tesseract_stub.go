//go:build !tesseract

package ocr

import "errors"

var errNoTesseract = errors.New("tesseract backend not compiled in (rebuild with -tags tesseract)")

func NewTesseract(lang string) (Recognizer, error) {
	return nil, errNoTesseract
}
