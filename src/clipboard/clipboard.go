package clipboard

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

var (
	mu       sync.Mutex
	initOnce sync.Once
	initErr  error
)

// Init prepares the system clipboard. Safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		initErr = clipboard.Init()
	})
	return initErr
}

// Write performs a mutex-guarded clipboard write so parallel writers cannot interleave.
func Write(text string) error {
	if err := Init(); err != nil {
		return fmt.Errorf("clipboard unavailable: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// Read returns the current clipboard text, or "" when it holds something else.
func Read() (string, error) {
	if err := Init(); err != nil {
		return "", fmt.Errorf("clipboard unavailable: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	return string(clipboard.Read(clipboard.FmtText)), nil
}
