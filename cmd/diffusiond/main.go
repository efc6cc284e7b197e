package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"diffusiond/internal/common/fsutil"
	"diffusiond/internal/config"
	"diffusiond/internal/httpapi"
	"diffusiond/internal/jobstore"
	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
	"diffusiond/internal/runtime"
	"diffusiond/internal/storage"
	"diffusiond/internal/trainer"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "diffusiond",
		Short:         "Personalized diffusion model serving and fine-tuning daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file (.yaml/.json/.toml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
				cfg.Addr = f.Value.String()
			}
			return runServe(cfg)
		},
	}
	defaultAddr := ":8000"
	if v := os.Getenv("DIFFUSIOND_ADDR"); v != "" {
		defaultAddr = v
	}
	serve.Flags().String("addr", defaultAddr, "HTTP listen address, e.g. :8000")

	models := &cobra.Command{
		Use:   "models",
		Short: "List resolvable models and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg := registry.New(cfg.UserModels, cfg.DefaultModel, cfg.UsersDir())
			for _, m := range reg.ListModels() {
				if m.Path != "" {
					fmt.Printf("%s\t%s\n", m.ID, m.Path)
					continue
				}
				fmt.Printf("%s\t(hub)\n", m.ID)
			}
			return nil
		},
	}

	root.AddCommand(serve, models)
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if f := cmd.InheritedFlags().Lookup("config"); f != nil && f.Value.String() != "" {
		loaded, err := config.Load(f.Value.String())
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyDefaults()
	dir, err := fsutil.ExpandHome(cfg.DataDir)
	if err != nil {
		return cfg, fmt.Errorf("expand data dir: %w", err)
	}
	cfg.DataDir = dir
	return cfg, nil
}

func runServe(cfg config.Config) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	httpapi.SetLogger(logger)
	httpapi.SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "DELETE", "OPTIONS"}, []string{"*"})

	var rt runtime.PipelineRuntime
	var workers *runtime.WorkerRuntime
	if cfg.WorkerBin != "" {
		workers = runtime.NewWorkerRuntime(runtime.WorkerConfig{Bin: cfg.WorkerBin})
		rt = workers
	} else {
		log.Printf("diffusiond no worker_bin configured, using stub runtime")
		rt = runtime.NewStubRuntimeWithModels(cfg.DefaultModel, cfg.FallbackModel, cfg.Training.BaseModel)
	}

	reg := registry.New(cfg.UserModels, cfg.DefaultModel, cfg.UsersDir())
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Runtime:       rt,
		Device:        runtime.Device(cfg.Device),
		FallbackModel: cfg.FallbackModel,
		MaxResident:   cfg.MaxResidentModels,
		ResolvePath:   reg.ModelPath,
	})
	st := storage.New(cfg.UsersDir(), cfg.TempDir(), cfg.Storage.MaxUserStorageGB)
	jobs := jobstore.New(st)
	tr := trainer.New(jobs, st, reg, nil, cfg.Training)

	// Base context canceled on shutdown so in-flight work unwinds.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewMux(httpapi.NewServer(cfg, mgr, reg, st, jobs, tr)),
	}

	go func() {
		log.Printf("diffusiond listening on %s (device: %s, data dir: %s)", cfg.Addr, cfg.Device, cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Hourly temp cleanup in the background.
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-baseCtx.Done():
				return
			case <-t.C:
				if _, err := st.CleanupTemp(24 * time.Hour); err != nil {
					log.Printf("temp cleanup error: %v", err)
				}
			}
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	mgr.EvictAll()
	if workers != nil {
		workers.StopAll()
	}
	return nil
}
