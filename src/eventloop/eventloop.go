// Package eventloop drives watch mode: it re-OCRs a fixed region on a timer
// and serves re-OCR requests from short-lived CLI invocations.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"screen-ocr-translate/src/clipboard"
	"screen-ocr-translate/src/pipeline"
	"screen-ocr-translate/src/regions"
	"screen-ocr-translate/src/screenshot"
	"screen-ocr-translate/src/singleinstance"
	"screen-ocr-translate/src/worker"
)

const (
	defaultInterval = 2 * time.Second
	// requestQueueSize is how many accepted connections wait for the loop.
	requestQueueSize = 4
)

// Sink receives watch-mode output. Calls come from the loop goroutine only.
type Sink interface {
	// Deliver is called once per new clean text (and its translation, if enabled).
	Deliver(res pipeline.Result)
	// Fail is called when a tick fails with an error different from the previous tick's.
	Fail(err error)
}

type Options struct {
	Pipeline  *pipeline.Pipeline
	Region    screenshot.Region
	Interval  time.Duration
	Translate bool
	Chunked   bool
	Sink      Sink
	// Server, when set, is started and its REOCR requests are served.
	Server singleinstance.Server
	// Store resolves per-application regions named in REOCR requests.
	Store *regions.Store
	// Clipboard receives delegated results in clipboard mode; defaults to the system clipboard.
	Clipboard func(text string) error
}

// Loop is the single-threaded coordinator for watch ticks and resident requests.
type Loop struct {
	opts      Options
	pool      *worker.Pool
	results   chan result
	busy      bool
	lastClean string
	lastErr   string
}

type result struct {
	res    pipeline.Result
	err    error
	conn   singleinstance.Conn // nil for watch ticks
	req    singleinstance.Request
	cancel context.CancelFunc
}

func New(opts Options) (*Loop, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("eventloop: pipeline is required")
	}
	if !opts.Region.Valid() {
		return nil, fmt.Errorf("eventloop: invalid region %s", opts.Region)
	}
	if opts.Sink == nil {
		return nil, errors.New("eventloop: sink is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.Write
	}
	return &Loop{
		opts:    opts,
		pool:    worker.New(1, opts.Pipeline.Process),
		results: make(chan result, 1),
	}, nil
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.pool.Close()

	var reqCh chan singleinstance.Conn
	if srv := l.opts.Server; srv != nil {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start resident listener: %w", err)
		}
		defer srv.Close()
		log.Printf("Watch: resident listening on 127.0.0.1:%d", srv.Port())

		reqCh = make(chan singleinstance.Conn, requestQueueSize)
		go func() {
			for {
				conn, err := srv.Next(ctx)
				if err != nil {
					close(reqCh)
					return
				}
				select {
				case reqCh <- conn:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}
		}()
	}

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()
	l.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		case conn, ok := <-reqCh:
			if !ok {
				reqCh = nil
				continue
			}
			l.handleConn(ctx, conn)
		case r := <-l.results:
			l.handleResult(r)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.busy {
		return
	}
	req := pipeline.Request{
		Region:    l.opts.Region,
		Translate: l.opts.Translate,
		Chunked:   l.opts.Chunked,
		Previous:  l.lastClean,
	}
	l.submit(ctx, req, nil, singleinstance.Request{})
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	if l.busy {
		_ = conn.RespondError(singleinstance.BusyMessage)
		_ = conn.Close()
		return
	}
	sreq := conn.Request()
	region := l.regionFor(sreq.App)
	req := pipeline.Request{Region: region, Translate: sreq.Translate, Chunked: sreq.Chunked}
	if !l.submit(ctx, req, conn, sreq) {
		_ = conn.RespondError(singleinstance.BusyMessage)
		_ = conn.Close()
	}
}

// regionFor returns app's last saved region, falling back to the watched one.
func (l *Loop) regionFor(app string) screenshot.Region {
	if app == "" || l.opts.Store == nil {
		return l.opts.Region
	}
	var region screenshot.Region
	err := l.opts.Store.Update(func(s *regions.Store) {
		r, err := s.Last(app)
		if err != nil {
			return
		}
		s.Touch(app, r)
		region = r
	})
	if err != nil || !region.Valid() {
		log.Printf("Watch: no saved region for %q, using watched region", app)
		return l.opts.Region
	}
	return region
}

func (l *Loop) submit(ctx context.Context, req pipeline.Request, conn singleinstance.Conn, sreq singleinstance.Request) bool {
	jobCtx, cancel := context.WithCancel(ctx)
	l.busy = true
	ok := l.pool.Submit(jobCtx, req, func(res pipeline.Result, err error) {
		select {
		case l.results <- result{res: res, err: err, conn: conn, req: sreq, cancel: cancel}:
		case <-ctx.Done():
			cancel()
			if conn != nil {
				_ = conn.Close()
			}
		}
	})
	if !ok {
		cancel()
		l.busy = false
	}
	return ok
}

func (l *Loop) handleResult(r result) {
	l.busy = false
	r.cancel()
	if r.conn != nil {
		l.respond(r)
		return
	}

	if r.err != nil {
		if msg := r.err.Error(); msg != l.lastErr {
			l.lastErr = msg
			l.opts.Sink.Fail(r.err)
		}
		return
	}
	l.lastErr = ""
	if r.res.Unchanged || r.res.Clean == l.lastClean {
		return
	}
	l.lastClean = r.res.Clean
	l.opts.Sink.Deliver(r.res)
}

func (l *Loop) respond(r result) {
	defer r.conn.Close()
	if r.err != nil {
		_ = r.conn.RespondError(r.err.Error())
		return
	}
	text := FormatResult(r.res)
	if r.req.OutputToStdout {
		_ = r.conn.RespondSuccess(text)
		return
	}
	if err := l.opts.Clipboard(text); err != nil {
		_ = r.conn.RespondError(fmt.Sprintf("clipboard error: %v", err))
		return
	}
	_ = r.conn.RespondSuccess("")
}

// FormatResult renders a result as plain text: the clean text, then the
// translation separated by a blank line when present.
func FormatResult(res pipeline.Result) string {
	if strings.TrimSpace(res.Translation) == "" {
		return res.Clean
	}
	return res.Clean + "\n\n" + res.Translation
}
