package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/your-org/faceforge/internal/analyser"
	"github.com/your-org/faceforge/internal/api"
	"github.com/your-org/faceforge/internal/config"
	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/events"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/modelrepo"
	"github.com/your-org/faceforge/internal/observability"
	"github.com/your-org/faceforge/internal/processors"
	"github.com/your-org/faceforge/internal/storage"
	"github.com/your-org/faceforge/internal/task"
	"github.com/your-org/faceforge/internal/vision"
)

// Exit codes per the task-runner contract.
const (
	exitOK         = 0
	exitValidation = 1
	exitRuntime    = 2
	exitSignal     = 130
)

func main() {
	var appConfigPath string

	root := &cobra.Command{
		Use:   "faceforge",
		Short: "Face swapping, enhancement and restoration engine",
	}
	root.PersistentFlags().StringVar(&appConfigPath, "config", "", "path to app config YAML")

	root.AddCommand(newRunCmd(&appConfigPath))
	root.AddCommand(newIdentityCmd(&appConfigPath))

	if err := root.Execute(); err != nil {
		os.Exit(exitValidation)
	}
}

func newRunCmd(appConfigPath *string) *cobra.Command {
	var taskPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task configuration",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runTask(*appConfigPath, taskPath))
		},
	}
	cmd.Flags().StringVarP(&taskPath, "task", "c", "", "path to task config (YAML or JSON)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func runTask(appConfigPath, taskPath string) int {
	cfg, err := config.Load(appConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitValidation
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	taskCfg, err := config.LoadTask(taskPath)
	if err != nil {
		slog.Error("load task config", "error", err)
		return exitValidation
	}

	slog.Info("starting faceforge",
		"task", taskCfg.TaskInfo.ID,
		"cpu_cores", runtime.NumCPU(),
	)

	if err := inference.InitRuntime(cfg.Models.OrtLibPath); err != nil {
		slog.Error("init onnx runtime", "error", err)
		return exitRuntime
	}
	defer inference.DestroyRuntime()

	repo, err := modelrepo.New(cfg.Models.CatalogPath, cfg.Models.Dir, cfg.Models.AutoDownload)
	if err != nil {
		slog.Error("load model catalog", "error", err)
		return exitValidation
	}

	sessions := inference.NewRegistry(nil)
	defer sessions.Clear()

	pool := inference.NewPool(inference.PoolConfig{
		Enable:      !cfg.Pool.Disable,
		MaxEntries:  cfg.Pool.MaxEntries,
		IdleTimeout: cfg.Pool.IdleTimeout,
	}, nil)
	defer pool.Clear()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go pool.Sweep(sweepCtx, cfg.Pool.SweepEvery)

	opts := executionOptions(cfg)
	registry := analyser.NewModelRegistry(sessions, repo, opts)

	store := face.NewStore(face.StoreOptions{
		Capacity: cfg.Analysis.StoreCapacity,
		Hash:     storeHash(cfg.Analysis.StoreHash),
	})

	anl := analyser.New(registry, store, analyserConfig(cfg, taskCfg))

	runner := &task.Runner{
		App:      cfg,
		Task:     taskCfg,
		Analyser: anl,
		Builder: &processors.Builder{
			Repo:          repo,
			Pool:          pool,
			Opts:          opts,
			Analyser:      anl,
			DistanceLimit: cfg.Analysis.DistanceLimit,
		},
		Metrics: task.NewCollector(taskCfg.TaskInfo.ID),
	}

	checkpoints, err := task.NewCheckpointManager(cfg.Models.CheckpointDir)
	if err != nil {
		slog.Error("init checkpoints", "error", err)
		return exitRuntime
	}
	runner.Checkpoints = checkpoints

	// Optional collaborators.
	if cfg.Events.NATSURL != "" {
		publisher, err := events.NewPublisher(cfg.Events.NATSURL)
		if err != nil {
			slog.Warn("events disabled", "error", err)
		} else {
			defer publisher.Close()
			if err := publisher.EnsureStream(context.Background()); err != nil {
				slog.Warn("ensure events stream", "error", err)
			}
			runner.Events = publisher
		}
	}
	if cfg.Artifacts.Endpoint != "" {
		artifacts, err := storage.NewArtifactStore(cfg.Artifacts)
		if err != nil {
			slog.Warn("artifact store disabled", "error", err)
		} else {
			if err := artifacts.EnsureBucket(context.Background()); err != nil {
				slog.Warn("ensure artifact bucket", "error", err)
			}
			runner.Artifacts = artifacts
		}
	}
	if cfg.Identity.Enabled() {
		identities, err := storage.NewIdentityStore(cfg.Identity)
		if err != nil {
			slog.Warn("identity library disabled", "error", err)
		} else {
			defer identities.Close()
			runner.Identities = identities
		}
	}

	if cfg.Server.Enabled {
		hub := api.NewHub()
		go hub.Run()
		board := api.NewStatusBoard(hub)
		runner.Progress = board.UpdateProgress
		board.SetState(taskCfg.TaskInfo.ID, "pending")

		engine := api.NewRouter(api.ServerConfig{
			APIKey: cfg.Server.APIKey,
			Board:  board,
			Hub:    hub,
		})
		go func() {
			slog.Info("status server listening", "port", cfg.Server.Port)
			if err := api.Serve(cfg.Server.Port, engine); err != nil {
				slog.Error("status server", "error", err)
			}
		}()
	}

	shutdown := task.NewShutdownHandler(0,
		func() {
			runner.Cancel()
		},
		func() {
			slog.Error("forced exit after shutdown timeout")
			os.Exit(exitSignal)
		},
	)
	shutdown.Install()
	defer shutdown.Uninstall()
	runner.Shutdown = shutdown

	err = runner.Run(context.Background())
	pool.Clear()
	sessions.Clear()
	shutdown.MarkCompleted()

	switch {
	case err == nil:
		slog.Info("task completed", "task", taskCfg.TaskInfo.ID)
		return exitOK
	case errs.CodeOf(err) == errs.CodeTaskCancelled:
		slog.Warn("task cancelled", "task", taskCfg.TaskInfo.ID)
		return exitSignal
	case errs.CodeOf(err) >= 200 && errs.CodeOf(err) < 300:
		slog.Error("validation failed", "error", err)
		return exitValidation
	default:
		slog.Error("task failed", "error", err)
		return exitRuntime
	}
}

func newIdentityCmd(appConfigPath *string) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "identity <image>",
		Short: "Store a named identity embedding in the identity library",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(saveIdentity(*appConfigPath, name, args[0]))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "identity name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func saveIdentity(appConfigPath, name, imagePath string) int {
	cfg, err := config.Load(appConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitValidation
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if !cfg.Identity.Enabled() {
		slog.Error("identity library is not configured")
		return exitValidation
	}

	if err := inference.InitRuntime(cfg.Models.OrtLibPath); err != nil {
		slog.Error("init onnx runtime", "error", err)
		return exitRuntime
	}
	defer inference.DestroyRuntime()

	repo, err := modelrepo.New(cfg.Models.CatalogPath, cfg.Models.Dir, cfg.Models.AutoDownload)
	if err != nil {
		slog.Error("load model catalog", "error", err)
		return exitValidation
	}

	sessions := inference.NewRegistry(nil)
	defer sessions.Clear()

	registry := analyser.NewModelRegistry(sessions, repo, executionOptions(cfg))
	store := face.NewStore(face.StoreOptions{Capacity: 4})
	anl := analyser.New(registry, store, analyserConfig(cfg, nil))

	frame, err := vision.ReadImage(imagePath)
	if err != nil {
		slog.Error("read image", "error", err)
		return exitRuntime
	}
	f, err := anl.GetOneFace(frame, 0, analyser.ModeAll, face.SelectorOptions{
		Order: face.OrderBestWorst,
	})
	if err != nil {
		slog.Error("analyse image", "error", err)
		return exitRuntime
	}

	identities, err := storage.NewIdentityStore(cfg.Identity)
	if err != nil {
		slog.Error("connect identity library", "error", err)
		return exitRuntime
	}
	defer identities.Close()

	ctx := context.Background()
	if err := identities.EnsureSchema(ctx); err != nil {
		slog.Error("ensure schema", "error", err)
		return exitRuntime
	}
	if _, err := identities.SaveIdentity(ctx, name, f.Embedding); err != nil {
		slog.Error("save identity", "error", err)
		return exitRuntime
	}

	slog.Info("identity saved", "name", name)
	return exitOK
}

func executionOptions(cfg *config.Config) inference.Options {
	return inference.Options{
		Providers:      cfg.Execution.Providers,
		DeviceID:       cfg.Execution.DeviceID,
		TRTWorkspaceMB: cfg.Execution.TRTWorkspaceMB,
		TRTEmbedEngine: cfg.Execution.TRTEmbedEngine,
		TRTEngineCache: cfg.Execution.TRTEngineCache,
		TRTCachePath:   cfg.Execution.TRTCachePath,
		IntraOpThreads: cfg.Execution.IntraOpThreads,
		InterOpThreads: cfg.Execution.InterOpThreads,
	}
}

func analyserConfig(cfg *config.Config, taskCfg *config.TaskConfig) analyser.Config {
	out := analyser.Config{
		DetectorModels:  []string{"retinaface_10g"},
		LandmarkModels:  []string{"2dfan_4"},
		ExpanderModel:   "face_landmarker_68_5",
		RecognizerModel: "arcface_w600k_r50",
		ClassifierModel: "fairface",
		DetectorScore:   cfg.Analysis.DetectorScore,
		LandmarkerScore: cfg.Analysis.LandmarkerScore,
	}
	if taskCfg == nil {
		return out
	}
	if len(taskCfg.Analysis.DetectorModels) > 0 {
		out.DetectorModels = taskCfg.Analysis.DetectorModels
	}
	if len(taskCfg.Analysis.LandmarkModels) > 0 {
		out.LandmarkModels = taskCfg.Analysis.LandmarkModels
	}
	if taskCfg.Analysis.DetectorScore > 0 {
		out.DetectorScore = taskCfg.Analysis.DetectorScore
	}
	if taskCfg.Analysis.LandmarkerScore > 0 {
		out.LandmarkerScore = taskCfg.Analysis.LandmarkerScore
	}
	return out
}

func storeHash(name string) face.HashStrategy {
	if name == "sha1" {
		return face.HashSHA1
	}
	return face.HashFNV1a
}
