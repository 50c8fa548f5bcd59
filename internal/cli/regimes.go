package cli

import (
	"github.com/spf13/cobra"

	"evotrader/internal/data"
	"evotrader/internal/regime"
)

func newRegimesCmd(app *App) *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "regimes",
		Short: "Classify market regimes over a bar file",
		Long:  "Run the regime detector over every bar of a CSV file and report the regime distribution.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			bars, err := data.LoadBarsCSV(dataPath)
			if err != nil {
				return err
			}

			detector, err := regime.NewDetector(app.Config.Regime, app.Logger)
			if err != nil {
				return err
			}
			counts := make(map[string]int)
			var last regime.Regime
			var lastMetrics regime.Metrics
			for _, b := range bars {
				last, lastMetrics = detector.Update(b.Close, b.High, b.Low)
				counts[last.String()]++
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"bars":          len(bars),
					"counts":        counts,
					"current":       last.String(),
					"metrics":       lastMetrics,
					"probabilities": regime.Probabilities(lastMetrics),
					"stats":         detector.Stats(),
				})
			}

			output.Printf("classified %d bars\n", len(bars))
			for _, name := range []string{"BULL", "BEAR", "SIDEWAYS", "VOLATILE", "BREAKOUT", "UNKNOWN"} {
				if n := counts[name]; n > 0 {
					output.Printf("  %-9s %d\n", name, n)
				}
			}
			output.Dim("current regime: %s (for %d bars)", last, detector.Duration())
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "CSV bar file (time,open,high,low,close,volume)")
	cmd.MarkFlagRequired("data")
	return cmd
}
