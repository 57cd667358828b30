package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/pipeline"
)

var captureCmd = &cobra.Command{
	Use:   "capture [url|file ...]",
	Short: "Capture documents, extract records and store them for review",
	Long:  "Captures each URL (or splits each local PDF), extracts candidate records and stores them unvalidated. Without arguments the configured site entry URL is expanded over one batch of pages.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, config.ModeCapture)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Capture(ctx, args)
		if err != nil {
			return err
		}
		printCapture(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}

func printCapture(out io.Writer, res *pipeline.CaptureResult) {
	fmt.Fprintf(out, "Captured %d documents (%d failed) at iteration %d\n", res.Documents, res.Failed, res.Iteration)
	fmt.Fprintf(out, "Stored %d of %d candidate records, %d need review\n", res.Stored, res.Candidates, res.NeedsReview)
	if m := res.Metrics; m != nil {
		fmt.Fprintf(out, "Accuracy %.2f%%, average confidence %.3f, cost $%.4f\n", m.Accuracy, m.AverageConfidence, m.CostUSD)
	}
	for _, a := range res.Alerts {
		fmt.Fprintf(out, "ALERT [%s] %s\n", a.Severity, a.Message)
	}
}
