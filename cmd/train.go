package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/analyzer"
	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/learning"
	"github.com/sells-group/extract-trainer/internal/report"
)

var (
	trainTarget        float64
	trainMaxIterations int
	roundSession       string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run training rounds until accuracy meets the target",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("target") {
			cfg.Learning.TargetAccuracy = trainTarget
		}
		if cmd.Flags().Changed("max-iterations") {
			cfg.Learning.MaxIterations = trainMaxIterations
		}

		env, err := initPipeline(ctx, config.ModeTrain)
		if err != nil {
			return err
		}
		defer env.Close()

		session, err := env.Store.StartSession(ctx)
		if err != nil {
			return err
		}

		ctrl := learning.NewController(env.Store, env.Extractor, learningOptions(), env.Instructions)
		res, err := learning.NewTrainer(ctrl, cfg.Learning.TargetAccuracy, cfg.Learning.MaxIterations).Train(ctx, session.ID)
		if res != nil {
			printTrain(cmd.OutOrStdout(), res)
		}
		if err != nil {
			return err
		}

		b := report.NewBuilder(env.Store, cfg.Learning.TargetAccuracy, cfg.Learning.MaxSamples)
		snap, err := b.Build(ctx)
		if err != nil {
			return err
		}
		return b.Publish(ctx, snap, cfg.Storage.ReportPath)
	},
}

var roundCmd = &cobra.Command{
	Use:   "round",
	Short: "Run exactly one training round",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, config.ModeTrain)
		if err != nil {
			return err
		}
		defer env.Close()

		sessionID := roundSession
		if sessionID == "" {
			session, err := env.Store.StartSession(ctx)
			if err != nil {
				return err
			}
			sessionID = session.ID
			zap.L().Info("started session", zap.String("session", sessionID))
		}

		ctrl := learning.NewController(env.Store, env.Extractor, learningOptions(), env.Instructions)
		res, err := ctrl.RunRound(ctx, sessionID)
		if err != nil {
			return err
		}
		printRound(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	trainCmd.Flags().Float64Var(&trainTarget, "target", 95, "target accuracy percentage")
	trainCmd.Flags().IntVar(&trainMaxIterations, "max-iterations", 5, "max number of rounds")
	roundCmd.Flags().StringVar(&roundSession, "session", "", "session to append to (default: start a new one)")
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(roundCmd)
}

func learningOptions() learning.Options {
	return learning.Options{
		ReextractCap:   cfg.Learning.ReextractCap,
		MaxSamples:     cfg.Learning.MaxSamples,
		TargetAccuracy: cfg.Learning.TargetAccuracy,
	}
}

func printRound(out io.Writer, r *learning.RoundResult) {
	if r.NoImprovementNeeded {
		fmt.Fprintf(out, "No failing examples; accuracy %.2f%%\n", r.AccuracyAfter)
	} else {
		n := 0
		if r.Iteration != nil {
			n = r.Iteration.Number
		}
		fmt.Fprintf(out, "Iteration %d: %.2f%% -> %.2f%% (%+.2f)\n", n, r.AccuracyBefore, r.AccuracyAfter, r.AccuracyAfter-r.AccuracyBefore)
		fmt.Fprintf(out, "  failing %d, re-extracted %d of %d, improved %d, skipped %d\n",
			r.Failing, r.Reextracted, r.Attempted, r.Improved, r.Skipped)
	}
	if len(r.Patterns) > 0 {
		fmt.Fprintf(out, "  remaining patterns: %s\n", analyzer.JoinTags(r.Patterns))
	}
	fmt.Fprintf(out, "  %s\n", r.Recommendation)
}

func printTrain(out io.Writer, res *learning.TrainResult) {
	fmt.Fprintf(out, "Session %s\n", res.SessionID)
	for _, r := range res.Rounds {
		printRound(out, r)
	}
	fmt.Fprintf(out, "Stopped (%s) after %d rounds: %.2f%% -> %.2f%%\n",
		res.Reason, len(res.Rounds), res.InitialAccuracy, res.FinalAccuracy)
}
