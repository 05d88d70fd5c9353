// Package window identifies the application that owns the foreground window,
// which keys the per-application region memory.
package window

import (
	"fmt"
	"log"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Unknown is the application name used when the foreground window cannot be resolved.
const Unknown = "unknown"

type Info struct {
	App   string `json:"app"`
	Title string `json:"title"`
	PID   int32  `json:"pid"`
}

// Active returns the foreground window's executable name (lower-cased) and title.
// It never fails; unresolvable windows report Unknown.
func Active() Info {
	pid, title, err := foreground()
	if err != nil {
		log.Printf("Window: %v", err)
		return Info{App: Unknown, Title: "Unknown Window"}
	}
	name, err := ProcessName(pid)
	if err != nil {
		log.Printf("Window: %v", err)
		return Info{App: Unknown, Title: title, PID: pid}
	}
	return Info{App: name, Title: title, PID: pid}
}

// ProcessName returns the lower-cased executable name of pid.
func ProcessName(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", fmt.Errorf("lookup process %d: %w", pid, err)
	}
	name, err := p.Name()
	if err != nil {
		return "", fmt.Errorf("process %d name: %w", pid, err)
	}
	return strings.ToLower(name), nil
}
