// report command: summarizes exported test spans and checks their consistency
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrewh/testspan/pkg/report"
)

func reportCmd() *cobra.Command {
	var (
		format string
		check  bool
	)

	cmd := &cobra.Command{
		Use:   "report [file]",
		Short: "Summarize exported test spans",
		Long: "Reads exported spans (stdouttrace or OTLP JSON) and prints one row per test.\n" +
			"With --check, also verifies every test span and fails if any is malformed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0]) //nolint:gosec // user-supplied file path is expected
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close() //nolint:errcheck // best-effort close on read-only file
				r = f
			}

			spans, err := report.ParseSpans(r, report.Format(format))
			if err != nil {
				return err
			}
			sums := report.Summarize(spans)
			if len(sums) == 0 {
				return fmt.Errorf("no test spans among %d spans read", len(spans))
			}
			report.Render(cmd.OutOrStdout(), sums)

			if !check {
				return nil
			}
			violations := report.Check(spans)
			if len(violations) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "All test spans passed checks")
				return nil
			}
			report.RenderViolations(cmd.OutOrStdout(), violations)
			return fmt.Errorf("%d test span checks failed", len(violations))
		},
	}

	cmd.Flags().StringVar(&format, "format", "auto", "input format: auto, stdouttrace, or otlp")
	cmd.Flags().BoolVar(&check, "check", false, "verify every test span and fail on problems")

	return cmd
}
