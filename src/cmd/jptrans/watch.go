package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-translate/src/config"
	"screen-ocr-translate/src/eventloop"
	"screen-ocr-translate/src/pipeline"
	"screen-ocr-translate/src/regions"
	"screen-ocr-translate/src/runtimeinit"
	"screen-ocr-translate/src/screenshot"
)

func newWatchCmd(opts *cliOptions) *cobra.Command {
	var (
		regionStr   string
		app         string
		interval    time.Duration
		noTranslate bool
		chunked     bool
		clipboard   bool
		noListen    bool
		noPing      bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-OCR a region on a timer and translate whenever its text changes",
		Long: "Re-OCR a region on a timer and translate whenever its text changes.\n" +
			"Unless --no-listen is given, the process also serves 'jptrans reocr' requests.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startup := runtimeinit.Options{Validate: requireOCR}
			if !noPing && opts.deps.pingVision != nil {
				startup.Ping = func(ctx context.Context, cfg *config.Config) error {
					if cfg.OCRBackend != config.BackendVision {
						return nil
					}
					return opts.deps.pingVision(ctx, cfg)
				}
			}
			if clipboard || !noListen {
				startup.InitClipboard = opts.deps.initClipboard
			}
			cfg, err := bootstrap(opts, cmd, startup)
			if err != nil {
				return err
			}

			if app == "" {
				app = opts.deps.activeWindow().App
			}
			var region screenshot.Region
			if regionStr != "" {
				region, err = screenshot.ParseRegion(regionStr)
				if err != nil {
					return err
				}
			} else if region, err = lastRegion(cfg, app); err != nil {
				return err
			}

			p, err := newPipeline(opts, cfg, true, !noTranslate)
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = cfg.WatchInterval
			}

			loopOpts := eventloop.Options{
				Pipeline:  p,
				Region:    region,
				Interval:  interval,
				Translate: !noTranslate,
				Chunked:   chunked,
				Sink: &cliSink{
					out:       cmd.OutOrStdout(),
					errOut:    cmd.ErrOrStderr(),
					json:      opts.jsonOutput,
					clipboard: clipboard,
					write:     opts.deps.clipboardWrite,
				},
				Store:     regions.New(cfg.RegionStorePath),
				Clipboard: opts.deps.clipboardWrite,
			}
			if !noListen {
				if port, ok := opts.deps.detectResident(cmd.Context()); ok {
					return fmt.Errorf("another watch process is already listening on port %d", port)
				}
				loopOpts.Server = opts.deps.newServer()
			}

			loop, err := eventloop.New(loopOpts)
			if err != nil {
				return err
			}
			log.Printf("Watch: region %s every %v (translate=%v chunked=%v)", region, interval, !noTranslate, chunked)
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s every %v, press Ctrl+C to stop\n", region, interval)

			err = loop.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&regionStr, "region", "", "Region to watch as x,y,width,height (default: last region for --app)")
	f.StringVar(&app, "app", "", "Application whose last region to watch (default: foreground window's executable)")
	f.DurationVar(&interval, "interval", 0, "Time between captures (default WATCH_INTERVAL_MS or 2s)")
	f.BoolVar(&noTranslate, "no-translate", false, "Only print recognized text")
	f.BoolVar(&chunked, "chunked", false, "Translate sentence-aligned chunks sequentially")
	f.BoolVar(&clipboard, "clipboard", false, "Also copy each new result to the clipboard")
	f.BoolVar(&noListen, "no-listen", false, "Do not serve reocr requests from other invocations")
	f.BoolVar(&noPing, "no-ping", false, "Skip the startup request to the OCR model")
	return cmd
}

// cliSink prints each changed result; errors go to stderr.
type cliSink struct {
	out       io.Writer
	errOut    io.Writer
	json      bool
	clipboard bool
	write     func(string) error
}

func (s *cliSink) Deliver(res pipeline.Result) {
	text := eventloop.FormatResult(res)
	if s.clipboard {
		if err := s.write(text); err != nil {
			fmt.Fprintf(s.errOut, "clipboard error: %v\n", err)
		}
	}
	if s.json {
		// One object per line so the stream can be piped into a line-oriented consumer.
		line, err := json.Marshal(struct {
			pipeline.Result
			Timestamp string `json:"timestamp"`
		}{res, time.Now().UTC().Format(time.RFC3339)})
		if err != nil {
			fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(s.out, string(line))
		return
	}
	fmt.Fprintf(s.out, "%s\n---\n", text)
}

func (s *cliSink) Fail(err error) {
	fmt.Fprintf(s.errOut, "%v\n", err)
}
