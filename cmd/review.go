package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/pipeline"
	"github.com/sells-group/extract-trainer/internal/review"
)

var (
	reviewAuto  bool
	reviewLimit int
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Validate extracted records one at a time",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, config.ModeReview)
		if err != nil {
			return err
		}
		defer env.Close()

		var reviewer review.Reviewer = review.AutoReviewer{Threshold: cfg.Learning.ConfidenceThreshold}
		if !reviewAuto {
			reviewer, err = review.NewTerminalReviewer(cfg.Learning.ConfidenceThreshold)
			if err != nil {
				return err
			}
		}

		res, err := env.Pipeline.Review(ctx, reviewer, reviewLimit)
		if err != nil {
			return err
		}
		printReview(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewAuto, "auto", false, "accept confident error-free records without prompting")
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 0, "max number of records to review (0 = all)")
	rootCmd.AddCommand(reviewCmd)
}

func printReview(out io.Writer, res *pipeline.ReviewResult) {
	fmt.Fprintf(out, "Reviewed %d of %d pending: %d accepted, %d edited, %d skipped\n",
		res.Reviewed, res.Pending, res.Accepted, res.Edited, res.Skipped)
	if res.Quit {
		fmt.Fprintln(out, "Review ended early; remaining records stay pending.")
	}
}
