//go:build !windows

package window

import "errors"

func foreground() (int32, string, error) {
	return 0, "", errors.New("foreground window lookup is only supported on Windows")
}

func EnableDPIAwareness() {}
