package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/crimecast/app"
)

var trainOpts app.TrainOptions

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the forecaster and keep the best checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
			rep, err := rt.Train(ctx, trainOpts)
			if rep != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: best epoch %d, val loss %.6f, saved=%t\n",
					rep.Result.RunID, rep.Result.Best.Epoch, rep.Result.Best.ValLoss, rep.Saved)
			}
			return err
		})
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the stored checkpoint on the test partition",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
			ev, err := rt.Evaluate(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "samples %d  loss %.6f  precision %.4f  recall %.4f  f1 %.4f\n",
				ev.Samples, ev.Loss, ev.Scores.Precision, ev.Scores.Recall, ev.Scores.F1)
			fmt.Fprintf(out, "best threshold %.2f (f1 %.4f)\n", ev.Sweep.Best.Threshold, ev.Sweep.Best.F1)
			return nil
		})
	},
}

func init() {
	trainCmd.Flags().BoolVar(&trainOpts.Force, "force", false, "replace the stored checkpoint even if it is better")
	trainCmd.Flags().StringVar(&trainOpts.Plot, "plot", "", "write the loss curve to this image file")
	rootCmd.AddCommand(trainCmd, evaluateCmd)
}
