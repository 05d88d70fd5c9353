// Package runtimeinit performs the startup sequence shared by the CLI
// commands: load configuration, route logging, validate and check backends.
package runtimeinit

import (
	"context"
	"fmt"
	"log"

	"screen-ocr-translate/src/config"
)

type Options struct {
	LoadOptions config.LoadOptions
	// SetupLogging is called with cfg.EnableFileLogging once the config is known.
	SetupLogging func(enableFileLogging bool)
	// Validate, when set, rejects configurations the command cannot run with.
	Validate func(cfg *config.Config) error
	// Ping is a startup connectivity check; a failure aborts startup.
	Ping func(ctx context.Context, cfg *config.Config) error
	// InitClipboard prepares the system clipboard for commands that write to it.
	InitClipboard func() error
}

func Bootstrap(ctx context.Context, opts Options) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg.EnableFileLogging)
	}

	if opts.Validate != nil {
		if err := opts.Validate(cfg); err != nil {
			return nil, err
		}
	}

	if opts.Ping != nil {
		if err := opts.Ping(ctx, cfg); err != nil {
			return nil, fmt.Errorf("startup check failed: %w", err)
		}
		log.Printf("Startup: %s ping succeeded", cfg.OCRModel)
	}

	if opts.InitClipboard != nil {
		if err := opts.InitClipboard(); err != nil {
			return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
		}
	}

	return cfg, nil
}
