package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nathanwhyte/build-hook/internal/lock"
)

var (
	// ErrUnknownProject is returned for a slug with no configured project.
	ErrUnknownProject = errors.New("no configuration found for project")
	// ErrBuildInProgress is returned while the project's previous run still holds its lock.
	ErrBuildInProgress = lock.ErrBusy
	// ErrBuilderNotReady is returned while the image builder is unavailable. It wraps
	// the builder's own reason.
	ErrBuilderNotReady = errors.New("cannot start build")
	// ErrLockMissing signals that a configured project has no build lock.
	ErrLockMissing = errors.New("build lock missing")
)

// State is a position in the run lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateRejected   State = "rejected"
	StateLocked     State = "locked"
	StateFetching   State = "fetching"
	StateBuilding   State = "building"
	StateRestarting State = "restarting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateRejected
}

// Stage names one step of the pipeline.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageBuild   Stage = "build"
	StageRestart Stage = "restart"
)

// StageError carries the project and stage a failure happened in.
type StageError struct {
	Slug  string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("project %s: %s stage failed: %v", e.Slug, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Run describes one pipeline execution.
type Run struct {
	ID          string
	Project     string
	TriggeredBy string
	State       State
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

type callerKey struct{}

// WithCaller records the authenticated identity that triggers a run.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the identity stored by WithCaller.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok && caller != ""
}
