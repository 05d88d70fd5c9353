// Package singleinstance lets one resident "watch" process own a loopback TCP
// port so that short-lived CLI invocations can ask it to re-OCR its region.
//
// Wire protocol, one request per connection:
//
//	PING\n                          -> PONG\n
//	REOCR\t<flags>\t<app>\n         -> SUCCESS\n<text> | ERROR\n<message>
//
// flags is a comma list of "stdout", "translate" and "chunked".
package singleinstance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultPortStart = 49500
	defaultPortEnd   = 49550

	// BusyMessage is sent when the resident is already processing a request.
	BusyMessage = "Busy, please retry"
)

// ErrBusy is returned by the client when the resident rejected the request as busy.
var ErrBusy = errors.New("resident is busy")

// Server owns the TCP endpoint and answers re-OCR requests.
type Server interface {
	// Start listens on the first port of the configured range.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted request connection, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	Request() Request
	// RespondSuccess sends success. Clipboard-mode callers send empty text.
	RespondSuccess(text string) error
	RespondError(msg string) error
	Close() error
}

// Request is one re-OCR request from a client.
type Request struct {
	// App selects whose saved region to use; empty means the resident's current region.
	App            string
	OutputToStdout bool
	Translate      bool
	Chunked        bool
}

// Client delegates re-OCR requests to a resident server.
type Client interface {
	// TryReocr scans the port range, handshakes and delegates to the resident.
	// If no resident is found, returns delegated=false, err=nil.
	TryReocr(ctx context.Context, req Request) (delegated bool, text string, err error)
}

func NewServer() Server { return newTcpServer() }

func NewClient() Client { return newTcpClient() }

func (r Request) encode() string {
	var flags []string
	if r.OutputToStdout {
		flags = append(flags, "stdout")
	}
	if r.Translate {
		flags = append(flags, "translate")
	}
	if r.Chunked {
		flags = append(flags, "chunked")
	}
	app := strings.NewReplacer("\t", " ", "\n", " ").Replace(r.App)
	return "REOCR\t" + strings.Join(flags, ",") + "\t" + app + "\n"
}

func parseRequest(line string) (Request, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(parts) != 3 || parts[0] != "REOCR" {
		return Request{}, fmt.Errorf("malformed request %q", strings.TrimSpace(line))
	}
	req := Request{App: parts[2]}
	for _, f := range strings.Split(parts[1], ",") {
		switch f {
		case "stdout":
			req.OutputToStdout = true
		case "translate":
			req.Translate = true
		case "chunked":
			req.Chunked = true
		}
	}
	return req, nil
}

// getPortRange returns the configured TCP port range. Environment variables:
// SINGLEINSTANCE_PORT_START and SINGLEINSTANCE_PORT_END (integers, inclusive).
// Falls back to defaults when unset/invalid, and clamps to [1024, 65535].
func getPortRange() (int, int) {
	start := envInt("SINGLEINSTANCE_PORT_START", defaultPortStart)
	end := envInt("SINGLEINSTANCE_PORT_END", defaultPortEnd)
	start = max(start, 1024)
	end = min(end, 65535)
	if end < start {
		start, end = end, start
	}
	return start, end
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

// PortRange exposes the effective port range for logging.
func PortRange() (int, int) { return getPortRange() }
