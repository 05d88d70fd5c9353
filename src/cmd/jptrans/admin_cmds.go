package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-translate/src/config"
	"screen-ocr-translate/src/regions"
	"screen-ocr-translate/src/singleinstance"
	"screen-ocr-translate/src/translate"
)

const doctorTimeout = 30 * time.Second

func newRegionsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions [app]",
		Short: "List remembered capture regions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			store, err := regions.Open(cfg.RegionStorePath)
			if err != nil {
				return err
			}
			apps := store.Apps()
			if len(args) == 1 {
				apps = []string{args[0]}
			}

			type jsonEntry struct {
				Region      string `json:"region"`
				WindowTitle string `json:"window_title,omitempty"`
				Timestamp   string `json:"timestamp"`
				LastUsed    string `json:"last_used"`
			}
			listing := make(map[string][]jsonEntry, len(apps))
			out := cmd.OutOrStdout()
			for _, app := range apps {
				entries := store.Entries(app)
				if !opts.jsonOutput {
					fmt.Fprintf(out, "%s (%d)\n", app, len(entries))
				}
				for _, e := range entries {
					if opts.jsonOutput {
						listing[app] = append(listing[app], jsonEntry{
							Region:      e.Region.String(),
							WindowTitle: e.WindowTitle,
							Timestamp:   e.Timestamp.Format(time.RFC3339),
							LastUsed:    e.LastUsed.Format(time.RFC3339),
						})
						continue
					}
					fmt.Fprintf(out, "  %-20s last used %s  %s\n", e.Region, e.LastUsed.Format("2006-01-02 15:04:05"), e.WindowTitle)
				}
			}
			if opts.jsonOutput {
				return writeJSON(out, listing)
			}
			if len(apps) == 0 {
				fmt.Fprintf(out, "No regions saved in %s\n", store.Path())
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "forget <app>",
		Short: "Drop every region remembered for an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			var found bool
			err = regions.New(cfg.RegionStorePath).Update(func(s *regions.Store) {
				found = s.Forget(args[0])
			})
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w %q", regions.ErrNoRegion, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot regions for %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// DoctorResult is the JSON shape of the doctor command.
type DoctorResult struct {
	OllamaURL      string            `json:"ollama_url"`
	Model          string            `json:"model"`
	Ollama         *translate.Report `json:"ollama,omitempty"`
	OllamaError    string            `json:"ollama_error,omitempty"`
	VisionModel    string            `json:"vision_model,omitempty"`
	VisionOK       bool              `json:"vision_ok"`
	VisionError    string            `json:"vision_error,omitempty"`
	ResidentPort   int               `json:"resident_port,omitempty"`
	ResidentActive bool              `json:"resident_active"`
}

func (r DoctorResult) healthy() bool {
	return r.OllamaError == "" && r.Ollama != nil && r.Ollama.ModelPresent && r.Ollama.SampleError == "" &&
		(r.VisionOK || r.VisionModel == "")
}

func newDoctorCmd(opts *cliOptions) *cobra.Command {
	var skipVision bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to Ollama and the OCR model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()

			res := DoctorResult{OllamaURL: cfg.OllamaURL, Model: cfg.TranslateModel}
			report, err := translate.Doctor(ctx, cfg.OllamaURL, cfg.TranslateModel)
			if err != nil {
				res.OllamaError = err.Error()
			}
			res.Ollama = report

			if !skipVision && cfg.OCRBackend == config.BackendVision {
				res.VisionModel = cfg.OCRModel
				if err := opts.deps.pingVision(ctx, cfg); err != nil {
					res.VisionError = err.Error()
				} else {
					res.VisionOK = true
				}
			}
			res.ResidentPort, res.ResidentActive = opts.deps.detectResident(ctx)

			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printDoctor(cmd, res)
			}
			if !res.healthy() {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipVision, "skip-vision", false, "Do not send a test request to the OCR model")
	return cmd
}

func printDoctor(cmd *cobra.Command, res DoctorResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Testing Ollama connection at %s...\n", res.OllamaURL)
	switch {
	case res.OllamaError != "":
		fmt.Fprintf(out, "✗ %s\n", res.OllamaError)
		fmt.Fprintln(out, "  Make sure Ollama is running: ollama serve")
	default:
		fmt.Fprintln(out, "✓ Ollama is running")
		fmt.Fprintf(out, "  Available models: %d\n", len(res.Ollama.Models))
		for _, m := range res.Ollama.Models {
			fmt.Fprintf(out, "  - %s\n", m)
		}
		if !res.Ollama.ModelPresent {
			fmt.Fprintf(out, "✗ Model %s not found\n", res.Model)
			fmt.Fprintf(out, "  Install it with: ollama pull %s\n", res.Model)
			break
		}
		fmt.Fprintf(out, "✓ Model %s is available\n", res.Model)
		if res.Ollama.SampleError != "" {
			fmt.Fprintf(out, "✗ Translation failed: %s\n", res.Ollama.SampleError)
			break
		}
		fmt.Fprintf(out, "✓ Translation test: %s -> %s\n", translate.SampleText, res.Ollama.Sample)
	}

	if res.VisionModel != "" {
		if res.VisionOK {
			fmt.Fprintf(out, "✓ OCR model %s answered\n", res.VisionModel)
		} else {
			fmt.Fprintf(out, "✗ OCR model %s: %s\n", res.VisionModel, res.VisionError)
		}
	}
	if res.ResidentActive {
		fmt.Fprintf(out, "✓ Watch process listening on port %d\n", res.ResidentPort)
	} else {
		start, end := singleinstance.PortRange()
		fmt.Fprintf(out, "- No watch process listening on ports %d-%d\n", start, end)
	}
}
