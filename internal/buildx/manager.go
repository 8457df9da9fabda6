// Package buildx manages the remote docker buildx builder that executes image builds.
package buildx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nathanwhyte/build-hook/internal/command"
)

// ErrNotReady is returned while the builder has not been (successfully) initialised.
var ErrNotReady = errors.New("image builder is not ready")

// Provisioner prepares cluster credentials before the builder is queried.
type Provisioner interface {
	Provision(ctx context.Context) error
}

type readiness int

const (
	stateUninitialised readiness = iota
	stateInitialising
	stateReady
	stateFailed
)

// Manager ensures a named builder exists and is selected, then runs builds on it.
type Manager struct {
	runner      command.Runner
	opts        Options
	provisioner Provisioner
	logger      *slog.Logger

	// ensureMu serialises EnsureReady; stateMu guards the readiness snapshot so
	// Ready never waits behind a slow initialisation.
	ensureMu sync.Mutex
	stateMu  sync.RWMutex
	state    readiness
	reason   error
}

// New creates a Manager. provisioner may be nil.
func New(runner command.Runner, opts Options, provisioner Provisioner, logger *slog.Logger) *Manager {
	return &Manager{
		runner:      runner,
		opts:        opts,
		provisioner: provisioner,
		logger:      logger,
	}
}

// Name returns the builder name every build targets.
func (m *Manager) Name() string {
	return m.opts.Name
}

// Ready returns nil once EnsureReady has succeeded, or an error wrapping ErrNotReady.
func (m *Manager) Ready() error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	switch m.state {
	case stateReady:
		return nil
	case stateInitialising:
		return fmt.Errorf("%w: initialisation in progress", ErrNotReady)
	case stateFailed:
		return fmt.Errorf("%w: %v", ErrNotReady, m.reason)
	default:
		return fmt.Errorf("%w: not initialised", ErrNotReady)
	}
}

func (m *Manager) setState(s readiness, reason error) {
	m.stateMu.Lock()
	m.state = s
	m.reason = reason
	m.stateMu.Unlock()
}

// EnsureReady provisions credentials, then selects the builder if it exists or
// creates, bootstraps and selects it otherwise. Every step is idempotent, so calling
// it again converges on the same selected builder without creating a second one.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()

	m.stateMu.Lock()
	wasReady := m.state == stateReady
	if !wasReady {
		m.state = stateInitialising
	}
	m.stateMu.Unlock()

	if err := m.ensure(ctx); err != nil {
		m.setState(stateFailed, err)
		return err
	}
	m.setState(stateReady, nil)
	return nil
}

func (m *Manager) ensure(ctx context.Context) error {
	if err := m.opts.Validate(); err != nil {
		return err
	}
	log := m.logger.With("builder", m.opts.Name)
	log.Info("initialising buildx builder", "driver", m.opts.Driver, "namespace", m.opts.Namespace)

	if m.provisioner != nil {
		if err := m.provisioner.Provision(ctx); err != nil {
			return fmt.Errorf("provision cluster credentials: %w", err)
		}
	}

	exists, err := m.exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		log.Info("builder already exists, using existing builder")
	} else {
		log.Info("creating buildx builder")
		args := []string{"buildx", "create", "--name", m.opts.Name, "--driver", m.opts.Driver}
		for _, opt := range m.opts.driverOpts() {
			args = append(args, "--driver-opt", opt)
		}
		if err := m.docker(ctx, "create builder", args...); err != nil {
			return err
		}
		if err := m.docker(ctx, "bootstrap builder", "buildx", "inspect", "--bootstrap", m.opts.Name); err != nil {
			return err
		}
	}
	if err := m.docker(ctx, "use builder", "buildx", "use", m.opts.Name); err != nil {
		return err
	}
	log.Info("buildx builder ready")
	return nil
}

func (m *Manager) exists(ctx context.Context) (bool, error) {
	res, err := m.runner.Run(ctx, command.Command{Name: "docker", Args: []string{"buildx", "inspect", m.opts.Name}})
	if err != nil {
		return false, fmt.Errorf("inspect builder: %w", err)
	}
	return res.Success(), nil
}

func (m *Manager) docker(ctx context.Context, step string, args ...string) error {
	res, err := m.runner.Run(ctx, command.Command{Name: "docker", Args: args})
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if !res.Success() {
		return fmt.Errorf("%s: exit code %d: %s", step, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Build runs a full, uncached build of one image on the builder and pushes it.
func (m *Manager) Build(ctx context.Context, tag, dockerfile, contextDir string) (command.Result, error) {
	if err := m.Ready(); err != nil {
		return command.Result{}, err
	}
	return m.runner.Run(ctx, command.Command{
		Name: "docker",
		Args: []string{
			"buildx", "build",
			"--builder", m.opts.Name,
			"--no-cache",
			"--push",
			"-t", tag,
			"--file", dockerfile,
			contextDir,
		},
	})
}
