package cli

import (
	"context"
	"math/rand"
	"path/filepath"

	"github.com/spf13/cobra"

	"evotrader/internal/agent"
	"evotrader/internal/curiosity"
	"evotrader/internal/curriculum"
	"evotrader/internal/data"
	"evotrader/internal/experience"
	"evotrader/internal/regime"
	"evotrader/internal/risk"
	"evotrader/internal/sim"
)

// session bundles the assembled simulation components for one command run.
type session struct {
	agent      *agent.Agent
	store      *experience.Store
	curriculum *curriculum.Manager
	frame      *data.FeatureFrame

	storePath      string
	curriculumPath string
	curiosityPath  string
}

// buildSession loads bars from dataPath, engineers features and wires the
// full component stack with a seeded random source.
func buildSession(app *App, dataPath, calendarPath string, seed int64) (*session, error) {
	bars, err := data.LoadBarsCSV(dataPath)
	if err != nil {
		return nil, err
	}
	frame, err := data.BuildFeatureFrame(bars)
	if err != nil {
		return nil, err
	}

	governor, err := risk.NewGovernor(app.Config.Risk, app.Logger)
	if err != nil {
		return nil, err
	}
	if calendarPath != "" {
		cal, err := risk.LoadEconomicCalendar(calendarPath)
		if err != nil {
			return nil, err
		}
		governor.SetNewsSource(cal)
	}

	simulator, err := sim.NewSimulator(app.Config.Sim, frame, governor, app.Logger)
	if err != nil {
		return nil, err
	}
	engine, err := curiosity.NewEngine(app.Config.Curiosity, rand.New(rand.NewSource(seed+1)))
	if err != nil {
		return nil, err
	}
	store, err := experience.NewStore(app.Config.Store, rand.New(rand.NewSource(seed+2)), app.Logger)
	if err != nil {
		return nil, err
	}
	manager, err := curriculum.NewManager(app.Config.Curriculum, app.Logger)
	if err != nil {
		return nil, err
	}
	detector, err := regime.NewDetector(app.Config.Regime, app.Logger)
	if err != nil {
		return nil, err
	}
	ag, err := agent.NewAgent(app.Config.Agent, simulator, engine, store, manager, detector,
		rand.New(rand.NewSource(seed+3)), app.Logger)
	if err != nil {
		return nil, err
	}
	// Episode placement follows the curriculum level.
	ag.UseCurriculumSegments(frame)

	dataDir := app.Config.Agent.DataDir
	return &session{
		agent:          ag,
		store:          store,
		curriculum:     manager,
		frame:          frame,
		storePath:      app.Config.Store.SavePath,
		curriculumPath: app.Config.Curriculum.SavePath,
		curiosityPath:  filepath.Join(dataDir, "curiosity.json"),
	}, nil
}

func newTrainCmd(app *App) *cobra.Command {
	var (
		dataPath     string
		calendarPath string
		archivePath  string
		episodes     int
		seed         int64
		resume       bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run training episodes over a bar file",
		Long: `Run a number of simulation episodes over a CSV bar file.

Each episode resets the market simulator with a derived seed, drives it to
completion through the hybrid agent and reports the outcome to the
curriculum manager. State is checkpointed after the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			sess, err := buildSession(app, dataPath, calendarPath, seed)
			if err != nil {
				return err
			}
			if resume {
				if err := sess.agent.Restore(sess.storePath, sess.curriculumPath, sess.curiosityPath); err != nil {
					return err
				}
			}

			reports := make([]agent.EpisodeReport, 0, episodes)
			for i := 0; i < episodes; i++ {
				report, err := sess.agent.RunEpisode(seed + int64(i))
				if err != nil {
					return err
				}
				reports = append(reports, report)
				if !output.IsJSON() {
					output.Printf("episode %d/%d  return=%+.4f  win_rate=%.2f  steps=%d  level=%s\n",
						i+1, episodes, report.Outcome.TotalReturn, report.Outcome.WinRate,
						report.Steps, report.Curriculum.Level)
				}
			}

			if err := sess.agent.Flush(sess.storePath, sess.curriculumPath, sess.curiosityPath); err != nil {
				return err
			}
			if archivePath != "" {
				if err := archiveExperiences(cmd.Context(), sess.store, archivePath); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(reports)
			}
			stats := sess.store.Stats()
			output.Success("finished %d episodes", episodes)
			output.Dim("experiences stored: %d/%d (%.0f%% profitable)",
				stats.Size, stats.Capacity, stats.ProfitableRatio*100)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "CSV bar file (time,open,high,low,close,volume)")
	cmd.Flags().StringVar(&calendarPath, "calendar", "", "optional economic calendar CSV")
	cmd.Flags().StringVar(&archivePath, "archive", "", "optional SQLite archive for experiences")
	cmd.Flags().IntVar(&episodes, "episodes", 10, "number of episodes to run")
	cmd.Flags().Int64Var(&seed, "seed", 42, "base random seed")
	cmd.Flags().BoolVar(&resume, "resume", false, "restore persisted state before training")
	cmd.MarkFlagRequired("data")

	return cmd
}

// archiveExperiences copies the live store contents into the SQLite
// archive in one batch.
func archiveExperiences(ctx context.Context, store *experience.Store, path string) error {
	archive, err := experience.OpenArchive(path)
	if err != nil {
		return err
	}
	defer archive.Close()

	batch := store.Sample(store.Len(), experience.SampleOptions{Uniform: true})
	return archive.WriteBatch(ctx, batch)
}
