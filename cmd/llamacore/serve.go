package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"llamacore/internal/httpapi"
	"llamacore/internal/manager"
	"llamacore/internal/registry"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	addr           string
	modelsDir      string
	budgetMB       int
	marginMB       int
	defaultModel   string
	engine         string
	engineArgs     string
	maxQueueDepth  int
	maxWait        time.Duration
	drainTimeout   time.Duration
	requestTimeout time.Duration
	maxBodyBytes   int64
	corsOrigins    string
	lruPath        string
	preload        bool
}

func newServeCmd(a *app) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, loading models on demand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.merge(cmd, a)
			return runServe(cmd.Context(), a, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", envOr("LLAMACORE_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	f.StringVar(&o.modelsDir, "models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	f.IntVar(&o.budgetMB, "vram-budget-mb", 0, "VRAM budget in MB for all instances (0=unlimited)")
	f.IntVar(&o.marginMB, "vram-margin-mb", 0, "Reserved VRAM margin in MB to keep free")
	f.StringVar(&o.defaultModel, "default-model", "", "Default model id when request omits model")
	f.StringVar(&o.engine, "engine", defaultEngine(), "Inference engine: echo|llama")
	f.StringVar(&o.engineArgs, "engine-args", "", `Engine flags applied to every model, e.g. "-c 8192 -np 4"`)
	f.IntVar(&o.maxQueueDepth, "max-queue-depth", 32, "Admitted requests per model before 429")
	f.DurationVar(&o.maxWait, "max-wait", 30*time.Second, "How long a request waits for admission")
	f.DurationVar(&o.drainTimeout, "drain-timeout", 30*time.Second, "How long unload waits for in-flight requests")
	f.DurationVar(&o.requestTimeout, "request-timeout", 0, "Upper bound per engine request (0=none)")
	f.Int64Var(&o.maxBodyBytes, "max-body-bytes", 1<<20, "Maximum request body size")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma separated allowed CORS origins (enables CORS)")
	f.StringVar(&o.lruPath, "lru-path", "", "File persisting model usage across restarts")
	f.BoolVar(&o.preload, "preload", false, "Load the default model in the background at startup")
	return cmd
}

// merge folds explicitly set flags over the config file.
func (o *serveOptions) merge(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	c := &a.cfg
	c.Addr = pick(f, "addr", o.addr, c.Addr)
	c.ModelsDir = pick(f, "models-dir", o.modelsDir, c.ModelsDir)
	c.VRAMBudgetMB = pick(f, "vram-budget-mb", o.budgetMB, c.VRAMBudgetMB)
	c.VRAMMarginMB = pick(f, "vram-margin-mb", o.marginMB, c.VRAMMarginMB)
	c.DefaultModel = pick(f, "default-model", o.defaultModel, c.DefaultModel)
	c.Engine = pick(f, "engine", o.engine, c.Engine)
	if f.Changed("engine-args") || len(c.EngineArgs) == 0 {
		c.EngineArgs = strings.Fields(o.engineArgs)
	}
	c.MaxQueueDepth = pick(f, "max-queue-depth", o.maxQueueDepth, c.MaxQueueDepth)
	c.MaxWaitMS = pick(f, "max-wait", int(o.maxWait.Milliseconds()), c.MaxWaitMS)
	c.DrainTimeoutMS = pick(f, "drain-timeout", int(o.drainTimeout.Milliseconds()), c.DrainTimeoutMS)
	c.RequestTimeoutSec = pick(f, "request-timeout", int64(o.requestTimeout.Seconds()), c.RequestTimeoutSec)
	c.MaxBodyBytes = pick(f, "max-body-bytes", o.maxBodyBytes, c.MaxBodyBytes)
	if origins := splitCSV(o.corsOrigins); f.Changed("cors-origins") && len(origins) > 0 {
		c.CORSEnabled = true
		c.CORSOrigins = origins
	}
	c.LRUPath = pick(f, "lru-path", o.lruPath, c.LRUPath)
}

func runServe(ctx context.Context, a *app, o *serveOptions) error {
	cfg := a.cfg
	log := a.log

	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return err
	}
	loader, backend, err := loaderFor(cfg.Engine)
	if err != nil {
		return err
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:      reg,
		BudgetMB:      cfg.VRAMBudgetMB,
		MarginMB:      cfg.VRAMMarginMB,
		DefaultModel:  cfg.DefaultModel,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.MaxWaitMS) * time.Millisecond,
		DrainTimeout:  time.Duration(cfg.DrainTimeoutMS) * time.Millisecond,
		Loader:        loader,
		Backend:       backend,
		EngineArgs:    cfg.EngineArgs,
		Logger:        log,
		LRUPath:       cfg.LRUPath,
	})
	for _, c := range mgr.Preflight() {
		ev := log.Debug()
		if !c.OK {
			ev = log.Warn()
		}
		ev.Str("check", c.Name).Bool("ok", c.OK).Msg(c.Message)
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeoutSeconds(cfg.RequestTimeoutSec)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, cfg.CORSMethods, cfg.CORSHeaders)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if o.preload && cfg.DefaultModel != "" {
		op, err := mgr.Switch(ctx, cfg.DefaultModel)
		if err != nil {
			return err
		}
		log.Info().Str("op", op).Str("model", cfg.DefaultModel).Msg("preloading default model")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Int("models", len(reg)).
			Str("engine", cfg.Engine).Msg("llamacore listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Graceful shutdown (Ctrl+C / SIGTERM or listener failure)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if cerr := mgr.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		log.Info().Msg("llamacore stopped")
		return err
	})
	return g.Wait()
}
