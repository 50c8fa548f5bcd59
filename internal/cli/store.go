package cli

import (
	"math/rand"

	"github.com/spf13/cobra"

	"evotrader/internal/experience"
)

func newStoreCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the persisted experience store",
	}

	cmd.AddCommand(newStoreStatsCmd(app))
	cmd.AddCommand(newStoreLessonsCmd(app))
	return cmd
}

func loadStore(app *App) (*experience.Store, error) {
	store, err := experience.NewStore(app.Config.Store, rand.New(rand.NewSource(1)), app.Logger)
	if err != nil {
		return nil, err
	}
	if err := store.Load(app.Config.Store.SavePath); err != nil {
		return nil, err
	}
	return store, nil
}

func newStoreStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show experience store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			store, err := loadStore(app)
			if err != nil {
				return err
			}

			stats := store.Stats()
			if output.IsJSON() {
				return output.JSON(stats)
			}
			output.Printf("experiences: %d/%d (%.0f%% full)\n", stats.Size, stats.Capacity, stats.Utilization*100)
			output.Printf("profitable:  %.0f%%\n", stats.ProfitableRatio*100)
			output.Printf("avg pnl:     %+.4f\n", stats.AvgPnL)
			output.Printf("avg priority %.4f\n", stats.AvgPriority)
			for name, n := range stats.ByRegime {
				output.Dim("  %-9s %d", name, n)
			}
			return nil
		},
	}
}

func newStoreLessonsCmd(app *App) *cobra.Command {
	var regimeName string

	cmd := &cobra.Command{
		Use:   "lessons",
		Short: "List lesson tags learned in a regime",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			store, err := loadStore(app)
			if err != nil {
				return err
			}

			lessons := store.LessonsForRegime(regimeName)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"regime":  regimeName,
					"lessons": lessons,
				})
			}
			if len(lessons) == 0 {
				output.Warning("no profitable lessons recorded for %s", regimeName)
				return nil
			}
			for _, l := range lessons {
				output.Printf("  %s\n", l)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&regimeName, "regime", "BULL", "regime tag to query")
	return cmd
}
