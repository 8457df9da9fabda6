package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nathanwhyte/build-hook/internal/buildx"
	"github.com/nathanwhyte/build-hook/internal/command"
	"github.com/nathanwhyte/build-hook/internal/git"
	httpx "github.com/nathanwhyte/build-hook/internal/http"
	"github.com/nathanwhyte/build-hook/internal/image"
	"github.com/nathanwhyte/build-hook/internal/kube"
	"github.com/nathanwhyte/build-hook/internal/lock"
	"github.com/nathanwhyte/build-hook/internal/project"
	"github.com/nathanwhyte/build-hook/internal/service/pipeline"
	"github.com/nathanwhyte/build-hook/internal/workspace"
	"github.com/nathanwhyte/build-hook/pkg/config"
	"github.com/nathanwhyte/build-hook/pkg/logger"
	"github.com/nathanwhyte/build-hook/pkg/notify"
)

const defaultShutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the build hook HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.LoadHookConfig())
		},
	}
}

func serve(parent context.Context, cfg config.HookConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logger.NewWithWriter(os.Stdout, "build-hook", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.BearerTokens) == 0 {
		return errors.New("BEARER_TOKENS must list at least one token")
	}
	projects, err := project.Load(cfg.ProjectFile)
	if err != nil {
		return fmt.Errorf("load project file: %w", err)
	}
	log.Info("configuration loaded", "file", cfg.ProjectFile, "projects", projects.Slugs(), "registry", projects.Registry)

	ws, err := workspace.New(cfg.Workdir)
	if err != nil {
		return fmt.Errorf("workspace init: %w", err)
	}
	log.Info("workspace root ready", "root", ws.Root())

	provisioner := &buildx.InClusterProvisioner{
		ServiceAccountDir: cfg.Cluster.ServiceAccountDir,
		Host:              cfg.Cluster.ServiceHost,
		Port:              cfg.Cluster.ServicePort,
		KubeconfigPath:    cfg.Cluster.KubeconfigPath,
		Logger:            log,
	}
	var env []string
	if provisioner.Enabled() {
		env = append(env, "KUBECONFIG="+cfg.Cluster.KubeconfigPath)
	}
	runner := command.NewOSRunner(env...)

	builder := buildx.New(runner, buildx.Options{
		Name:           cfg.Builder.Name,
		Driver:         cfg.Builder.Driver,
		Namespace:      cfg.Builder.Namespace,
		Replicas:       cfg.Builder.Replicas,
		RequestsCPU:    cfg.Builder.RequestsCPU,
		RequestsMemory: cfg.Builder.RequestsMemory,
		LimitsCPU:      cfg.Builder.LimitsCPU,
		LimitsMemory:   cfg.Builder.LimitsMemory,
	}, provisioner, log)

	restarter, err := newRestarter(cfg, runner)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	onFinish, err := newNotifier(cfg, log)
	if err != nil {
		return err
	}

	svc := pipeline.New(pipeline.Deps{
		Projects:    projects,
		Locks:       lock.NewRegistry(projects.Slugs()),
		Workspace:   ws,
		Fetcher:     git.NewFetcher(runner),
		Images:      image.NewSequencer(builder, ws.Cleanup, cfg.BuildTimeout, log),
		Restarts:    kube.NewTrigger(restarter, cfg.RestartTimeout, log),
		Builder:     builder,
		Logger:      log,
		Metrics:     pipeline.NewMetrics(reg),
		SourceToken: cfg.SourceToken,
		GitTimeout:  cfg.GitTimeout,
		OnFinish:    onFinish,
	})

	go func() {
		log.Info("initialising image builder", "builder", builder.Name(), "driver", cfg.Builder.Driver)
		if err := builder.EnsureReady(ctx); err != nil {
			log.Error("image builder initialisation failed; build triggers will be rejected", "builder", builder.Name(), "error", err)
			return
		}
		log.Info("image builder ready", "builder", builder.Name())
	}()

	router := httpx.New(httpx.Options{
		Logger:   log,
		Pipeline: svc,
		Tokens:   cfg.BearerTokens,
		Registry: reg,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("build hook server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := svc.Wait(shutdownCtx); err != nil {
			log.Warn("builds still running at shutdown", "error", err)
		}
		log.Info("build hook server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

func newRestarter(cfg config.HookConfig, runner command.Runner) (kube.Restarter, error) {
	switch cfg.RestartBackend {
	case config.RestartBackendKubectl, "":
		return kube.NewCLIRestarter(runner), nil
	case config.RestartBackendAPI:
		client, err := kube.NewClientset(cfg.Cluster.KubeconfigPath)
		if err != nil {
			return nil, err
		}
		return kube.NewAPIRestarter(client), nil
	default:
		return nil, fmt.Errorf("unknown RESTART_BACKEND %q (want %q or %q)", cfg.RestartBackend, config.RestartBackendKubectl, config.RestartBackendAPI)
	}
}

const notifyTimeout = 10 * time.Second

// newNotifier returns a run observer posting to NOTIFY_URL, or nil when unset.
func newNotifier(cfg config.HookConfig, log *slog.Logger) (func(pipeline.Run), error) {
	if cfg.NotifyURL == "" {
		return nil, nil
	}
	emitter, err := notify.NewEmitter(cfg.NotifyURL, cfg.NotifyToken, nil)
	if err != nil {
		return nil, err
	}
	return func(run pipeline.Run) {
		event := notify.Event{
			BuildID:     run.ID,
			Project:     run.Project,
			Outcome:     string(run.State),
			TriggeredBy: run.TriggeredBy,
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
		}
		if run.Err != nil {
			event.Error = run.Err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			log.Warn("build notification failed", "project", run.Project, "build_id", run.ID, "error", err)
		}
	}, nil
}
