// Package pipeline coordinates the fetch, build and restart stages of a project
// build behind a per-project single-flight gate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nathanwhyte/build-hook/internal/git"
	"github.com/nathanwhyte/build-hook/internal/image"
	"github.com/nathanwhyte/build-hook/internal/kube"
	"github.com/nathanwhyte/build-hook/internal/lock"
	"github.com/nathanwhyte/build-hook/internal/project"
	"github.com/nathanwhyte/build-hook/internal/workspace"
)

// Readiness reports whether builds can currently run.
type Readiness interface {
	Ready() error
}

// Deps wires the collaborators of a Service.
type Deps struct {
	Projects  *project.Config
	Locks     *lock.Registry
	Workspace *workspace.Manager
	Fetcher   *git.Fetcher
	Images    *image.Sequencer
	Restarts  *kube.Trigger
	Builder   Readiness
	Logger    *slog.Logger
	Metrics   *Metrics
	// SourceToken authenticates fetches of private repositories when set.
	SourceToken string
	// GitTimeout bounds the fetch stage when positive.
	GitTimeout time.Duration
	// OnFinish, when set, observes every run after its lock was released.
	OnFinish func(Run)
}

// Service accepts build triggers and runs pipelines in the background.
type Service struct {
	projects    *project.Config
	locks       *lock.Registry
	workspace   *workspace.Manager
	fetcher     *git.Fetcher
	images      *image.Sequencer
	restarts    *kube.Trigger
	builder     Readiness
	logger      *slog.Logger
	metrics     *Metrics
	sourceToken string
	gitTimeout  time.Duration
	onFinish    func(Run)
	now         func() time.Time
	inFlight    sync.WaitGroup
}

// New creates a pipeline service.
func New(d Deps) *Service {
	return &Service{
		projects:    d.Projects,
		locks:       d.Locks,
		workspace:   d.Workspace,
		fetcher:     d.Fetcher,
		images:      d.Images,
		restarts:    d.Restarts,
		builder:     d.Builder,
		logger:      d.Logger,
		metrics:     d.Metrics,
		sourceToken: d.SourceToken,
		gitTimeout:  d.GitTimeout,
		onFinish:    d.OnFinish,
		now:         time.Now,
	}
}

// Trigger starts a run for slug and returns as soon as it was dispatched. It never
// waits for the run: a project whose previous run still holds the lock is rejected
// with ErrBuildInProgress, an unknown slug with ErrUnknownProject before any lock is
// consulted.
func (s *Service) Trigger(ctx context.Context, slug string) (Run, error) {
	run := Run{Project: slug, State: StateIdle}
	if caller, ok := CallerFromContext(ctx); ok {
		run.TriggeredBy = caller
	}

	p, ok := s.projects.Lookup(slug)
	if !ok {
		return s.reject(run, "unknown_project", fmt.Errorf("%w `%s`", ErrUnknownProject, slug))
	}
	if s.builder != nil {
		if err := s.builder.Ready(); err != nil {
			return s.reject(run, "builder_not_ready", fmt.Errorf("%w: %v", ErrBuilderNotReady, err))
		}
	}
	permit, err := s.locks.TryAcquire(slug)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return s.reject(run, "busy", err)
		}
		s.logger.Error("no build lock configured for project", "project", slug, "error", err)
		return s.reject(run, "lock_missing", fmt.Errorf("%w for project `%s`", ErrLockMissing, slug))
	}

	run.ID = uuid.NewString()
	run.State = StateLocked
	run.StartedAt = s.now().UTC()
	s.metrics.started()
	s.inFlight.Add(1)
	// The run must outlive the triggering request, so it gets its own context.
	go s.execute(context.Background(), run, p, permit)

	s.logger.Info("build started", "project", slug, "build_id", run.ID, "triggered_by", run.TriggeredBy)
	return run, nil
}

// Wait blocks until every dispatched run has finished or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether triggers can currently be accepted.
func (s *Service) Ready() error {
	if s.builder == nil {
		return nil
	}
	return s.builder.Ready()
}

func (s *Service) reject(run Run, reason string, err error) (Run, error) {
	run.State = StateRejected
	run.Err = err
	s.metrics.rejectedTrigger(reason)
	s.logger.Warn("build trigger rejected", "project", run.Project, "reason", reason, "error", err)
	return run, err
}

func (s *Service) execute(ctx context.Context, run Run, p *project.Project, permit *lock.Permit) {
	log := s.logger.With("project", p.Slug, "build_id", run.ID)
	defer s.inFlight.Done()
	defer func() {
		if r := recover(); r != nil {
			run = s.fail(log, run, "", fmt.Errorf("panic: %v", r))
		}
		run.FinishedAt = s.now().UTC()
		s.metrics.finished(p.Slug, run.State)
		permit.Release()
		if s.onFinish != nil {
			s.onFinish(run)
		}
	}()

	dest, err := s.workspace.Path(p.Slug)
	if err != nil {
		run = s.fail(log, run, StageFetch, err)
		return
	}

	run = s.enter(log, run, StateFetching)
	if err := s.stage(StageFetch, func() error {
		fetchCtx := ctx
		if s.gitTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, s.gitTimeout)
			defer cancel()
		}
		log.Info("cloning repository", "url", p.Source.URL, "branch", p.Source.Branch, "workspace", dest)
		return s.fetcher.Fetch(fetchCtx, git.Source{URL: p.Source.URL, Branch: p.Source.Branch}, s.sourceToken, dest)
	}); err != nil {
		if cerr := s.workspace.CleanupSlug(p.Slug); cerr != nil {
			log.Warn("workspace cleanup failed", "workspace", dest, "error", cerr)
		}
		run = s.fail(log, run, StageFetch, err)
		return
	}

	run = s.enter(log, run, StateBuilding)
	images := image.Plan(s.projects.Registry, dest, p.Images)
	if err := s.stage(StageBuild, func() error {
		return s.images.WithLogger(log.With("stage", string(StageBuild))).BuildAll(ctx, images, dest)
	}); err != nil {
		run = s.fail(log, run, StageBuild, err)
		return
	}

	run = s.enter(log, run, StateRestarting)
	if err := s.stage(StageRestart, func() error {
		return s.restarts.WithLogger(log.With("stage", string(StageRestart))).RestartAll(ctx, p.Restart.Namespace, p.Restart.Resources)
	}); err != nil {
		run = s.fail(log, run, StageRestart, err)
		return
	}

	run.State = StateDone
	log.Info("build completed", "duration", s.now().UTC().Sub(run.StartedAt).String())
}

func (s *Service) enter(log *slog.Logger, run Run, state State) Run {
	log.Debug("pipeline transition", "from", run.State, "to", state)
	run.State = state
	return run
}

func (s *Service) stage(stage Stage, fn func() error) error {
	start := s.now()
	err := fn()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.stage(stage, outcome, s.now().Sub(start))
	return err
}

func (s *Service) fail(log *slog.Logger, run Run, stage Stage, err error) Run {
	stageErr := &StageError{Slug: run.Project, Stage: stage, Err: err}
	if stage == "" {
		stageErr.Stage = Stage(run.State)
	}
	log.Error("pipeline stage failed", "stage", stageErr.Stage, "state", run.State, "error", err)
	run.State = StateFailed
	run.Err = stageErr
	return run
}
