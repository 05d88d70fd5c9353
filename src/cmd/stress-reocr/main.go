// Command stress-reocr fires concurrent reocr requests at a running
// "jptrans watch" process and tallies how many were served or refused as busy.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-translate/src/singleinstance"
)

type stressOptions struct {
	n         int
	mode      string
	app       string
	translate bool
	deadline  time.Duration
}

type tally struct {
	ok, busy, missed, errs int32
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts, singleinstance.NewClient)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions, newClient func() singleinstance.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-reocr",
		Short:         "Stress test reocr delegation to a watch process",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.mode != "std" && opts.mode != "clip" {
				return fmt.Errorf("unknown mode %q (want std or clip)", opts.mode)
			}
			t := runWithOptions(cmd.Context(), *opts, newClient)
			report(cmd.OutOrStdout(), opts.n, t)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().StringVar(&opts.mode, "mode", "std", "std|clip: result on stdout or in the resident's clipboard")
	cmd.Flags().StringVar(&opts.app, "app", "", "application whose saved region the resident should use")
	cmd.Flags().BoolVar(&opts.translate, "translate", false, "ask the resident to translate as well")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")

	return cmd
}

func runWithOptions(ctx context.Context, opts stressOptions, newClient func() singleinstance.Client) tally {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		wg sync.WaitGroup
		t  tally
	)
	req := singleinstance.Request{App: opts.app, OutputToStdout: opts.mode == "std", Translate: opts.translate}
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, opts.deadline)
			defer cancel()
			delegated, _, err := newClient().TryReocr(cctx, req)
			switch {
			case errors.Is(err, singleinstance.ErrBusy):
				atomic.AddInt32(&t.busy, 1)
			case err != nil:
				atomic.AddInt32(&t.errs, 1)
			case delegated:
				atomic.AddInt32(&t.ok, 1)
			default:
				atomic.AddInt32(&t.missed, 1)
			}
		}()
	}
	wg.Wait()
	return t
}

func report(w io.Writer, n int, t tally) {
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d no_resident=%d err=%d\n", n, t.ok, t.busy, t.missed, t.errs)
}
