// Package kube restarts cluster workloads after a successful build.
package kube

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nathanwhyte/build-hook/internal/project"
)

// Restarter issues a rollout restart of a single workload.
type Restarter interface {
	Restart(ctx context.Context, namespace string, resource project.ResourceID) error
}

// ResourceFailure pairs a workload with the error its restart produced.
type ResourceFailure struct {
	Resource project.ResourceID
	Err      error
}

// RestartError lists every workload that failed to restart.
type RestartError struct {
	Namespace string
	Failures  []ResourceFailure
}

func (e *RestartError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Resource, f.Err))
	}
	return fmt.Sprintf("%d restart(s) failed in namespace %s: %s", len(e.Failures), e.Namespace, strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *RestartError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Trigger restarts every declared workload, continuing past individual failures.
type Trigger struct {
	restarter Restarter
	timeout   time.Duration
	logger    *slog.Logger
}

// NewTrigger creates a Trigger. A positive timeout bounds each restart.
func NewTrigger(restarter Restarter, timeout time.Duration, logger *slog.Logger) *Trigger {
	return &Trigger{restarter: restarter, timeout: timeout, logger: logger}
}

// WithLogger returns a copy of t that logs through l.
func (t *Trigger) WithLogger(l *slog.Logger) *Trigger {
	cp := *t
	cp.logger = l
	return &cp
}

// RestartAll attempts each restart once, in order, and returns a *RestartError naming
// every workload that failed.
func (t *Trigger) RestartAll(ctx context.Context, namespace string, resources []project.ResourceID) error {
	var failures []ResourceFailure
	for _, res := range resources {
		t.logger.Info("restarting resource", "resource", res.String(), "namespace", namespace)
		if err := t.restart(ctx, namespace, res); err != nil {
			t.logger.Error("restart failed", "resource", res.String(), "namespace", namespace, "error", err)
			failures = append(failures, ResourceFailure{Resource: res, Err: err})
			continue
		}
		t.logger.Info("resource restarted", "resource", res.String(), "namespace", namespace)
	}
	if len(failures) > 0 {
		return &RestartError{Namespace: namespace, Failures: failures}
	}
	return nil
}

func (t *Trigger) restart(ctx context.Context, namespace string, res project.ResourceID) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.restarter.Restart(ctx, namespace, res)
}
