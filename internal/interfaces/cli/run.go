package cli

import (
	"context"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/moltools/dockscreen/internal/config"
	"github.com/moltools/dockscreen/internal/correction"
	"github.com/moltools/dockscreen/internal/inference"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/internal/infrastructure/metrics"
	"github.com/moltools/dockscreen/internal/infrastructure/modelapi"
	"github.com/moltools/dockscreen/internal/persistence"
	"github.com/moltools/dockscreen/internal/pipeline"
)

// flagBindings maps run-command flags onto configuration keys.
var flagBindings = map[string]string{
	"ligands":        "ligands",
	"receptor":       "receptor",
	"output":         "output",
	"batch-size":     "batch_size",
	"resume":         "resume",
	"corrections":    "run_corrections",
	"slice":          "slice",
	"seed":           "seed",
	"model-endpoint": "model.endpoint",
	"metrics":        "metrics.enabled",
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Screen a ligand library against a receptor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			loader := config.NewLoader(cfgPath)
			for flag, key := range flagBindings {
				if err := loader.BindFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			return runScreen(cmd.Context(), cfg, loader)
		},
	}

	cmd.Flags().String("ligands", "", "multi-molecule SDF file to screen")
	cmd.Flags().String("receptor", "", "receptor structure file")
	cmd.Flags().StringP("output", "o", "", "run directory for poses, logs and scores")
	cmd.Flags().Int("batch-size", pipeline.DefaultBatchSize, "ligands per batched model call")
	cmd.Flags().Bool("resume", false, "extend a previous run in the same output directory")
	cmd.Flags().Bool("corrections", true, "fit predicted poses onto valid geometry")
	cmd.Flags().String("slice", "", "restrict to ligand range start,end (half-open)")
	cmd.Flags().Int64("seed", 1, "random seed forwarded to the model")
	cmd.Flags().String("model-endpoint", "", "docking model server URL")
	cmd.Flags().Bool("metrics", false, "expose Prometheus metrics while running")
	return cmd
}

func runScreen(parent context.Context, cfg *config.Config, loader *config.Loader) error {
	log, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logging.SetDefault(log)

	// Long screens can be retuned in flight: editing the config file adjusts
	// the log level without restarting the run.
	level := cfg.Log.Level
	loader.Watch(log, func(next *config.Config) {
		if next.Log.Level == level || !logging.SetLevel(log, next.Log.Level) {
			return
		}
		level = next.Log.Level
		log.Info("log level changed", logging.String("level", level))
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	if cfg.Metrics.Enabled {
		srv := metrics.StartServer(cfg.Metrics.Listen, registry, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ligands, err := persistence.ReadSDFFile(cfg.Ligands, log)
	if err != nil {
		return err
	}
	log.Info("ligand library loaded",
		logging.String("file", cfg.Ligands),
		logging.Int("ligands", len(ligands)),
	)

	var skip map[int]struct{}
	if cfg.Resume {
		skip, err = pipeline.LoadCompleted(
			filepath.Join(cfg.Output, persistence.SuccessLogName),
			filepath.Join(cfg.Output, persistence.FailedLogName),
		)
		if err != nil {
			return err
		}
		log.Info("resuming previous run", logging.Int("already_done", len(skip)))
	}

	writer, err := persistence.NewFileWriter(cfg.Output, cfg.Resume, log)
	if err != nil {
		return err
	}

	slice, err := cfg.LigandSlice()
	if err != nil {
		return err
	}

	model := modelapi.NewClient(cfg.Model.Endpoint, cfg.Model.Timeout, log.Named("model")).WithSeed(cfg.Seed)
	acc := pipeline.NewAccumulator(writer,
		correction.NewPoseCorrector(log.Named("correct"), recorder),
		inference.NewConfidenceEstimator(log.Named("confidence"), recorder),
		cfg.RunCorrections, skip, log)
	p := pipeline.New(
		inference.NewBatchRunner(model, log.Named("runner"), recorder),
		acc, cfg.BatchSize, slice, log)

	receptor := inference.Receptor{
		Name: strings.TrimSuffix(filepath.Base(cfg.Receptor), filepath.Ext(cfg.Receptor)),
		Path: cfg.Receptor,
	}
	_, err = p.Run(ctx, receptor, ligands)
	return err
}
