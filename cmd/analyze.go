package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/report"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Measure accuracy over validated records and publish the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		b := report.NewBuilder(env.Store, cfg.Learning.TargetAccuracy, cfg.Learning.MaxSamples)
		snap, err := b.Build(ctx)
		if err != nil {
			return err
		}
		if err := b.Publish(ctx, snap, cfg.Storage.ReportPath); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), report.Format(snap))
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the current accuracy snapshot without publishing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := report.NewBuilder(env.Store, cfg.Learning.TargetAccuracy, cfg.Learning.MaxSamples).Build(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), report.Format(snap))
		return nil
	},
}

var instructionsCmd = &cobra.Command{
	Use:   "instructions",
	Short: "Print the installed extraction instructions",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		if len(env.Instructions.Tags) > 0 {
			fmt.Fprintf(out, "Corrections for: %v\n\n", env.Instructions.TagStrings())
		}
		fmt.Fprintln(out, env.Instructions.Document)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(instructionsCmd)
}
