package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-translate/src/config"
	"screen-ocr-translate/src/pipeline"
	"screen-ocr-translate/src/regions"
	"screen-ocr-translate/src/screenshot"
	"screen-ocr-translate/src/singleinstance"
	"screen-ocr-translate/src/window"
)

// stageFlags are shared by every command that runs OCR.
type stageFlags struct {
	translate bool
	chunked   bool
	clipboard bool
}

func (f *stageFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.translate, "translate", false, "Translate the recognized text")
	cmd.Flags().BoolVar(&f.chunked, "chunked", false, "Translate sentence-aligned chunks sequentially")
	cmd.Flags().BoolVar(&f.clipboard, "clipboard", false, "Copy the result to the clipboard instead of printing it")
}

func newOCRCmd(opts *cliOptions) *cobra.Command {
	var (
		filePath string
		flags    stageFlags
	)
	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Run OCR on a PNG file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				return fmt.Errorf("--file is required")
			}
			start := time.Now()
			data, err := readInput(opts, filePath)
			if err != nil {
				return err
			}
			if err := validatePNG(data); err != nil {
				return err
			}

			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			p, err := newPipeline(opts, cfg, true, flags.translate)
			if err != nil {
				return err
			}

			res, err := p.ExtractImage(cmd.Context(), data)
			if err != nil {
				return err
			}
			if flags.translate {
				res.Translation, res.Chunks, err = p.Translate(cmd.Context(), res.Clean, flags.chunked)
				if err != nil {
					return err
				}
			}
			source := "file"
			if filePath == "-" {
				source = "stdin"
			}
			return emitResult(cmd, opts, res, time.Since(start), outputTarget{source: source, clipboard: flags.clipboard})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Path to PNG image file (\"-\" for stdin)")
	flags.register(cmd)
	return cmd
}

func newCaptureCmd(opts *cliOptions) *cobra.Command {
	var (
		regionStr string
		app       string
		noSave    bool
		flags     stageFlags
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a screen region, OCR it and remember it for the active application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if regionStr == "" {
				return fmt.Errorf("--region is required")
			}
			region, err := screenshot.ParseRegion(regionStr)
			if err != nil {
				return err
			}
			start := time.Now()

			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			p, err := newPipeline(opts, cfg, true, flags.translate)
			if err != nil {
				return err
			}

			info := opts.deps.activeWindow()
			if app == "" {
				app = info.App
			}
			if !noSave {
				rememberRegion(cfg, app, info.Title, region)
			}

			res, err := p.Process(cmd.Context(), pipeline.Request{Region: region, Translate: flags.translate, Chunked: flags.chunked})
			if err != nil {
				return err
			}
			return emitResult(cmd, opts, res, time.Since(start), outputTarget{source: "screen", app: app, clipboard: flags.clipboard})
		},
	}
	cmd.Flags().StringVar(&regionStr, "region", "", "Region to capture as x,y,width,height")
	cmd.Flags().StringVar(&app, "app", "", "Application to remember the region for (default: foreground window's executable)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not remember the region")
	flags.register(cmd)
	return cmd
}

// rememberRegion records region for app; failures only cost the shortcut, so they are logged.
func rememberRegion(cfg *config.Config, app, title string, region screenshot.Region) {
	if app == "" || app == window.Unknown {
		log.Printf("Regions: foreground application unknown, not remembering %s", region)
		return
	}
	store := regions.New(cfg.RegionStorePath)
	err := store.Update(func(s *regions.Store) {
		s.Remember(app, title, region)
	})
	if err != nil {
		log.Printf("Regions: failed to save region for %s: %v", app, err)
		return
	}
	log.Printf("Regions: remembered %s for %s", region, app)
}

func newReocrCmd(opts *cliOptions) *cobra.Command {
	var (
		app   string
		local bool
		flags stageFlags
	)
	cmd := &cobra.Command{
		Use:   "reocr",
		Short: "Re-OCR the last region used for an application",
		Long: "Re-OCR the last region used for an application. When a 'watch' process is\n" +
			"running, the request is delegated to it; otherwise it runs in this process.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if app == "" {
				app = opts.deps.activeWindow().App
			}

			if !local {
				delegated, text, err := opts.deps.client.TryReocr(cmd.Context(), singleinstance.Request{
					App:            app,
					OutputToStdout: !flags.clipboard,
					Translate:      flags.translate,
					Chunked:        flags.chunked,
				})
				if errors.Is(err, singleinstance.ErrBusy) {
					return fmt.Errorf("resident watch process is busy, try again shortly")
				}
				if err != nil {
					return err
				}
				if delegated {
					log.Printf("Reocr: delegated to resident for %s", app)
					return emitDelegated(cmd, opts, app, text, time.Since(start), flags.clipboard)
				}
			}

			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			region, err := lastRegion(cfg, app)
			if err != nil {
				return err
			}
			p, err := newPipeline(opts, cfg, true, flags.translate)
			if err != nil {
				return err
			}
			res, err := p.Process(cmd.Context(), pipeline.Request{Region: region, Translate: flags.translate, Chunked: flags.chunked})
			if err != nil {
				return err
			}
			return emitResult(cmd, opts, res, time.Since(start), outputTarget{source: "screen", app: app, clipboard: flags.clipboard})
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "Application whose region to reuse (default: foreground window's executable)")
	cmd.Flags().BoolVar(&local, "local", false, "Never delegate to a running watch process")
	flags.register(cmd)
	return cmd
}

func lastRegion(cfg *config.Config, app string) (screenshot.Region, error) {
	store := regions.New(cfg.RegionStorePath)
	var (
		region  screenshot.Region
		lastErr error
	)
	err := store.Update(func(s *regions.Store) {
		region, lastErr = s.Last(app)
		if lastErr == nil {
			s.Touch(app, region)
		}
	})
	if lastErr != nil {
		return screenshot.Region{}, fmt.Errorf("%w %q: run 'jptrans capture --region' first", lastErr, app)
	}
	if err != nil {
		if !region.Valid() {
			return screenshot.Region{}, err
		}
		log.Printf("Regions: failed to update last-used time: %v", err)
	}
	return region, nil
}

// emitDelegated reports a result produced by the resident process.
func emitDelegated(cmd *cobra.Command, opts *cliOptions, app, text string, elapsed time.Duration, clipboard bool) error {
	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), OCRResult{
			Text:      text,
			Source:    "resident",
			App:       app,
			Delegated: true,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Duration:  elapsed.Seconds(),
			CharCount: len([]rune(text)),
		})
	}
	if clipboard {
		return nil
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
