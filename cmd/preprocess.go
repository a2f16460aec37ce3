package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kilianp07/crimecast/app"
)

var preprocessForce bool

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Aggregate incidents and build the sequence archives",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
			res, err := rt.Preprocess(ctx, preprocessForce)
			if err != nil {
				return err
			}
			rt.Log.Infow("preprocess complete", map[string]any{
				"days":       res.Table.Days(),
				"incidents":  res.Table.Total(),
				"samples":    res.Samples,
				"aggregated": res.Aggregated,
				"windowed":   res.Windowed,
				"dropped":    res.Report.DroppedTotal(),
			})
			return nil
		})
	},
}

func init() {
	preprocessCmd.Flags().BoolVar(&preprocessForce, "force", false, "rebuild artifacts even when fresh")
	rootCmd.AddCommand(preprocessCmd)
}
