package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/crimecast/app"
	"github.com/kilianp07/crimecast/pkg/export"
)

var (
	predictDate      string
	predictThreshold float64
	predictPublish   bool
	predictFormat    string
	renderDate       string
	renderOut        string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Forecast hotspots for a date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		date, err := parseDay(predictDate)
		if err != nil {
			return err
		}
		if predictFormat != "json" && predictFormat != "csv" {
			return fmt.Errorf("unknown format %q (want json or csv)", predictFormat)
		}
		return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
			svc, err := rt.Query(ctx)
			if err != nil {
				return err
			}
			threshold := rt.Cfg.Inference.Threshold
			if cmd.Flags().Changed("threshold") {
				threshold = predictThreshold
			}
			res, err := svc.GetHotspots(ctx, "", threshold, date)
			if err != nil {
				return err
			}
			if res.Extrapolated {
				rt.Log.Warnf("%s lies past the last labelled day; forecasting from the newest window", res.Date.Format(time.DateOnly))
			}
			if predictPublish {
				pub, err := rt.Publisher()
				if err != nil {
					return err
				}
				defer pub.Close()
				if err := rt.PublishForecast(ctx, pub, res); err != nil {
					return err
				}
			}
			if predictFormat == "csv" {
				return export.WriteCSV(cmd.OutOrStdout(), res)
			}
			return export.WriteJSON(cmd.OutOrStdout(), res)
		})
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write the hotspot heatmap of a date as HTML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		date, err := parseDay(renderDate)
		if err != nil {
			return err
		}
		return withRuntime(func(ctx context.Context, rt *app.Runtime) error {
			svc, err := rt.Query(ctx)
			if err != nil {
				return err
			}
			res, err := rt.Render(ctx, svc, date, renderOut)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d hotspots written to %s\n", res.Date.Format(time.DateOnly), res.Count, renderOut)
			return nil
		})
	},
}

// parseDay accepts YYYY-MM-DD; empty selects the day after the last
// observation.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func init() {
	predictCmd.Flags().StringVar(&predictDate, "date", "", "forecast date (YYYY-MM-DD), default the day after the last observation")
	predictCmd.Flags().Float64Var(&predictThreshold, "threshold", 0.6, "probability cutoff")
	predictCmd.Flags().BoolVar(&predictPublish, "publish", false, "publish the forecast over MQTT")
	predictCmd.Flags().StringVar(&predictFormat, "format", "json", "output format: json or csv")

	renderCmd.Flags().StringVar(&renderDate, "date", "", "forecast date (YYYY-MM-DD)")
	renderCmd.Flags().StringVar(&renderOut, "out", "hotspots.html", "output HTML file")
	rootCmd.AddCommand(predictCmd, renderCmd)
}
