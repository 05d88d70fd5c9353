package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-translate/src/clipboard"
	"screen-ocr-translate/src/config"
	"screen-ocr-translate/src/eventloop"
	"screen-ocr-translate/src/llm"
	"screen-ocr-translate/src/logutil"
	"screen-ocr-translate/src/ocr"
	"screen-ocr-translate/src/pipeline"
	"screen-ocr-translate/src/runtimeinit"
	"screen-ocr-translate/src/screenshot"
	"screen-ocr-translate/src/singleinstance"
	"screen-ocr-translate/src/translate"
	"screen-ocr-translate/src/window"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type cliOptions struct {
	jsonOutput bool
	verbose    bool
	apiKeyPath string
	ollamaURL  string
	model      string
	maxLength  int

	deps deps
}

// deps are the collaborators commands reach outside the process through.
type deps struct {
	stdin          io.Reader
	newRecognizer  func(cfg *config.Config) (ocr.Recognizer, error)
	newTranslator  func(cfg *config.Config) (translate.Translator, error)
	capture        pipeline.CaptureFunc
	activeWindow   func() window.Info
	clipboardWrite func(text string) error
	clipboardRead  func() (string, error)
	initClipboard  func() error
	client         singleinstance.Client
	newServer      func() singleinstance.Server
	detectResident func(ctx context.Context) (int, bool)
	pingVision     func(ctx context.Context, cfg *config.Config) error
}

func defaultDeps() deps {
	return deps{
		stdin:         os.Stdin,
		newRecognizer: ocr.New,
		newTranslator: func(cfg *config.Config) (translate.Translator, error) {
			t, err := translate.NewOllama(cfg.OllamaURL, cfg.TranslateModel)
			if err != nil {
				return nil, err
			}
			return translate.NewCached(t, cfg.TranslateModel, cfg.TranslationCacheSize)
		},
		capture:        screenshot.CaptureRegionContext,
		activeWindow:   window.Active,
		clipboardWrite: clipboard.Write,
		clipboardRead:  clipboard.Read,
		initClipboard:  clipboard.Init,
		client:         singleinstance.NewClient(),
		newServer:      singleinstance.NewServer,
		detectResident: singleinstance.DetectResidentPort,
		pingVision: func(ctx context.Context, cfg *config.Config) error {
			c, err := llm.New(llm.Config{APIKey: cfg.APIKey, Model: cfg.OCRModel, Providers: cfg.Providers})
			if err != nil {
				return err
			}
			return c.Ping(ctx)
		},
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWithArgs(ctx, normalizeLegacyArgs(os.Args))
}

func runWithArgs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"jptrans"}
	}
	opts := &cliOptions{deps: defaultDeps()}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jptrans",
		Short:         "Japanese screen OCR with local LLM translation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts, cmd.ErrOrStderr(), false)
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	pf.StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to OpenRouter API key file (highest precedence)")
	pf.StringVar(&opts.ollamaURL, "ollama-url", "", "Ollama server URL (overrides OLLAMA_URL)")
	pf.StringVar(&opts.model, "model", "", "Ollama translation model (overrides TRANSLATE_MODEL)")
	pf.IntVar(&opts.maxLength, "max-length", 0, "Maximum chunk length in characters (overrides CHUNK_MAX_LENGTH)")

	cmd.AddCommand(
		newNormalizeCmd(opts),
		newChunkCmd(opts),
		newRulesCmd(opts),
		newOCRCmd(opts),
		newTranslateCmd(opts),
		newCaptureCmd(opts),
		newReocrCmd(opts),
		newWatchCmd(opts),
		newRegionsCmd(opts),
		newDoctorCmd(opts),
	)
	return cmd
}

// normalizeLegacyArgs accepts single-dash spellings of long flags (-json, -file=x).
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	long := map[string]bool{
		"file": true, "json": true, "verbose": true, "api-key-path": true,
		"region": true, "app": true, "clipboard": true, "translate": true,
		"chunked": true, "max-length": true, "ollama-url": true, "model": true,
	}

	normalized := make([]string, len(args))
	copy(normalized, args)
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "--") {
			continue
		}
		name, _, _ := strings.Cut(arg[1:], "=")
		if long[name] {
			normalized[i] = "-" + arg
		}
	}
	return normalized
}

func setupLogging(opts *cliOptions, stderr io.Writer, fileLogging bool) {
	if opts.verbose {
		logutil.SetupVerbose(stderr)
		log.SetPrefix("[verbose] ")
		return
	}
	log.SetPrefix("")
	logutil.Setup(fileLogging)
}

func loadConfig(opts *cliOptions, cmd *cobra.Command) (*config.Config, error) {
	return bootstrap(opts, cmd, runtimeinit.Options{})
}

// bootstrap loads the configuration with the global flag overrides applied
// and runs the extra startup steps the command asked for.
func bootstrap(opts *cliOptions, cmd *cobra.Command, startup runtimeinit.Options) (*config.Config, error) {
	startup.LoadOptions = config.LoadOptions{
		APIKeyPathOverride:     opts.apiKeyPath,
		OllamaURLOverride:      opts.ollamaURL,
		TranslateModelOverride: opts.model,
		ChunkMaxLengthOverride: opts.maxLength,
	}
	startup.SetupLogging = func(enableFileLogging bool) {
		if enableFileLogging {
			setupLogging(opts, cmd.ErrOrStderr(), true)
		}
	}
	cfg, err := runtimeinit.Bootstrap(cmd.Context(), startup)
	if err != nil {
		return nil, err
	}
	log.Printf("Config: backend=%s ocr_model=%s key=%s key_path=%s", cfg.OCRBackend, cfg.OCRModel, logutil.RedactKey(cfg.APIKey), cfg.APIKeyPath)
	log.Printf("Config: ollama=%s translate_model=%s max_chunk=%d", cfg.OllamaURL, cfg.TranslateModel, cfg.ChunkMaxLength)
	return cfg, nil
}

func requireOCR(cfg *config.Config) error {
	if cfg.OCRBackend == config.BackendVision {
		if cfg.APIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY not found. Checked key file %s and OPENROUTER_API_KEY env var", cfg.APIKeyPath)
		}
		if cfg.OCRModel == "" {
			return fmt.Errorf("OCR_MODEL is required in .env file")
		}
	}
	return cfg.Validate()
}

// newPipeline wires the stages a command needs; unused stages stay nil.
func newPipeline(opts *cliOptions, cfg *config.Config, needOCR, needTranslate bool) (*pipeline.Pipeline, error) {
	p := &pipeline.Pipeline{
		Capture:           opts.deps.capture,
		MaxChunk:          cfg.ChunkMaxLength,
		OCRDeadline:       cfg.OCRDeadline,
		TranslateDeadline: cfg.TranslateDeadline,
	}
	if needOCR {
		if err := requireOCR(cfg); err != nil {
			return nil, err
		}
		r, err := opts.deps.newRecognizer(cfg)
		if err != nil {
			return nil, err
		}
		p.Recognizer = r
	}
	if needTranslate {
		if err := cfg.ValidateTranslation(); err != nil {
			return nil, err
		}
		t, err := opts.deps.newTranslator(cfg)
		if err != nil {
			return nil, err
		}
		p.Translator = t
	}
	return p, nil
}

// OCRResult is the JSON shape of every command that produces recognized text.
type OCRResult struct {
	Text        string   `json:"text"`
	Raw         string   `json:"raw,omitempty"`
	Translation string   `json:"translation,omitempty"`
	Chunks      []string `json:"chunks,omitempty"`
	Source      string   `json:"source"`
	App         string   `json:"app,omitempty"`
	Delegated   bool     `json:"delegated,omitempty"`
	Timestamp   string   `json:"timestamp"`
	Duration    float64  `json:"duration_seconds"`
	CharCount   int      `json:"character_count"`
}

type outputTarget struct {
	source    string
	app       string
	clipboard bool
	// translationOnly prints just the translation in plain mode.
	translationOnly bool
}

func emitResult(cmd *cobra.Command, opts *cliOptions, res pipeline.Result, elapsed time.Duration, target outputTarget) error {
	text := eventloop.FormatResult(res)
	if target.translationOnly {
		text = res.Translation
	}
	if target.clipboard {
		if err := opts.deps.clipboardWrite(text); err != nil {
			return fmt.Errorf("clipboard error: %w", err)
		}
		log.Printf("Output: copied %d characters to clipboard", len([]rune(text)))
	}

	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), OCRResult{
			Text:        res.Clean,
			Raw:         res.Raw,
			Translation: res.Translation,
			Chunks:      res.Chunks,
			Source:      target.source,
			App:         target.app,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Duration:    elapsed.Seconds(),
			CharCount:   len([]rune(res.Clean)),
		})
	}
	if target.clipboard {
		return nil
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// readInput reads path ("-" for stdin), enforcing the size cap.
func readInput(opts *cliOptions, path string) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		log.Printf("Input: reading from stdin")
		r = opts.deps.stdin
	} else {
		log.Printf("Input: reading file %s", path)
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	return data, nil
}

func validatePNG(data []byte) error {
	if len(data) < len(pngMagic) || !bytes.Equal(data[:len(pngMagic)], pngMagic) {
		return fmt.Errorf("input is not a valid PNG file (invalid magic number)")
	}
	return nil
}

// textArg returns args joined by spaces, or stdin when args are empty or "-".
func textArg(opts *cliOptions, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := readInput(opts, "-")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
