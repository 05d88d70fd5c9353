package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-translate/src/chunker"
	"screen-ocr-translate/src/pipeline"
	"screen-ocr-translate/src/textnorm"
)

func newNormalizeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [text...]",
		Short: "Clean up raw OCR text (reads stdin when no text is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := textArg(opts, args)
			if err != nil {
				return err
			}
			clean := textnorm.Normalize(raw)
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"raw":             raw,
					"text":            clean,
					"character_count": len([]rune(clean)),
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), clean)
			return err
		},
	}
}

func newChunkCmd(opts *cliOptions) *cobra.Command {
	var normalize bool
	cmd := &cobra.Command{
		Use:   "chunk [text...]",
		Short: "Split text into sentence-aligned chunks no longer than --max-length",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := textArg(opts, args)
			if err != nil {
				return err
			}
			if normalize {
				text = textnorm.Normalize(text)
			}
			maxLength := opts.maxLength
			if maxLength <= 0 {
				maxLength = chunker.DefaultMaxLength
			}
			chunks := chunker.Split(text, maxLength)
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"max_length": maxLength,
					"chunks":     chunks,
				})
			}
			out := cmd.OutOrStdout()
			for i, c := range chunks {
				if _, err := fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(chunks), c); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Normalize the text before chunking")
	return cmd
}

func newRulesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the OCR character correction table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := textnorm.Rules()
			if opts.jsonOutput {
				pairs := make([]map[string]string, 0, len(rules))
				for _, r := range rules {
					pairs = append(pairs, map[string]string{"bad": r.Bad, "good": r.Good})
				}
				return writeJSON(cmd.OutOrStdout(), pairs)
			}
			out := cmd.OutOrStdout()
			for _, r := range rules {
				if _, err := fmt.Fprintf(out, "%q\t-> %q\n", r.Bad, r.Good); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newTranslateCmd(opts *cliOptions) *cobra.Command {
	var (
		filePath      string
		fromClipboard bool
		noNormalize   bool
		chunked       bool
		toClipboard   bool
	)
	cmd := &cobra.Command{
		Use:   "translate [text...]",
		Short: "Translate Japanese text to English with the local Ollama model",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			text, source, err := translateInput(opts, args, filePath, fromClipboard)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			p, err := newPipeline(opts, cfg, false, true)
			if err != nil {
				return err
			}

			res := pipeline.Result{Raw: text, Clean: text}
			if !noNormalize {
				res.Clean = textnorm.Normalize(text)
			}
			log.Printf("Translate: %d characters from %s, chunked=%v", len([]rune(res.Clean)), source, chunked)
			res.Translation, res.Chunks, err = p.Translate(cmd.Context(), res.Clean, chunked)
			if err != nil {
				return err
			}
			return emitResult(cmd, opts, res, time.Since(start), outputTarget{
				source:          source,
				clipboard:       toClipboard,
				translationOnly: true,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&filePath, "file", "", "Read the text from a file (\"-\" for stdin)")
	f.BoolVar(&fromClipboard, "from-clipboard", false, "Read the text from the clipboard")
	f.BoolVar(&noNormalize, "no-normalize", false, "Translate the text as given, without OCR cleanup")
	f.BoolVar(&chunked, "chunked", false, "Translate sentence-aligned chunks sequentially")
	f.BoolVar(&toClipboard, "clipboard", false, "Copy the translation to the clipboard instead of printing it")
	return cmd
}

func translateInput(opts *cliOptions, args []string, filePath string, fromClipboard bool) (string, string, error) {
	switch {
	case fromClipboard:
		text, err := opts.deps.clipboardRead()
		if err != nil {
			return "", "", fmt.Errorf("clipboard error: %w", err)
		}
		return text, "clipboard", nil
	case filePath != "":
		data, err := readInput(opts, filePath)
		if err != nil {
			return "", "", err
		}
		return strings.TrimRight(string(data), "\r\n"), "file", nil
	default:
		text, err := textArg(opts, args)
		return text, "args", err
	}
}
