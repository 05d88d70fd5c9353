package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"
)

const (
	logFileName  = "screen_ocr_translate.log"
	maxSizeBytes = 10 * 1024 * 1024 // 10 MB
	maxArchives  = 3
)

// Setup enables file logging with size-based rotation (10MB, max 3 archives) in the
// working directory. When disabled, logs are discarded to keep stdout clean.
func Setup(enableFileLogging bool) {
	if !enableFileLogging {
		log.SetOutput(io.Discard)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		return
	}
	w, err := newRotatingWriter(".", maxSizeBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return
	}
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// SetupVerbose sends log output to w (usually stderr) for interactive CLI runs.
func SetupVerbose(w io.Writer) {
	log.SetOutput(w)
	log.SetFlags(log.Ltime | log.Lmicroseconds)
}

type rotatingWriter struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	f       *os.File
}

func newRotatingWriter(dir string, maxSize int64) (*rotatingWriter, error) {
	w := &rotatingWriter{dir: dir, maxSize: maxSize}
	w.rotateIfNeeded()
	f, err := os.OpenFile(w.path(0), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	w.f = f
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, err := w.f.Stat(); err == nil && st.Size()+int64(len(p)) > w.maxSize {
		_ = w.f.Close()
		w.rotate()
		nf, err := os.OpenFile(w.path(0), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return 0, err
		}
		w.f = nf
	}
	return w.f.Write(p)
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func (w *rotatingWriter) rotateIfNeeded() {
	if st, err := os.Stat(w.path(0)); err == nil && st.Size() > w.maxSize {
		w.rotate()
	}
}

// rotate shifts base -> .1 -> .2 -> .3; the oldest archive is discarded.
func (w *rotatingWriter) rotate() {
	_ = os.Remove(w.path(maxArchives))
	for i := maxArchives - 1; i >= 1; i-- {
		_ = os.Rename(w.path(i), w.path(i+1))
	}
	_ = os.Rename(w.path(0), w.path(1))
}

func (w *rotatingWriter) path(n int) string {
	if n == 0 {
		return filepath.Join(w.dir, logFileName)
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s.%d", logFileName, n))
}

// RedactKey masks an API key, leaving first/last 4 chars: xxxx...yyyy
func RedactKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s...%s", k[:4], k[len(k)-4:])
}

// Preview shortens s to at most n characters for log lines, never splitting a rune.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
