package kube

import (
	"context"
	"fmt"
	"strings"

	"github.com/nathanwhyte/build-hook/internal/command"
	"github.com/nathanwhyte/build-hook/internal/project"
)

// CLIRestarter restarts workloads with `kubectl rollout restart`.
type CLIRestarter struct {
	runner command.Runner
}

// NewCLIRestarter creates a kubectl-backed Restarter.
func NewCLIRestarter(runner command.Runner) *CLIRestarter {
	return &CLIRestarter{runner: runner}
}

// Restart runs kubectl rollout restart for resource in namespace.
func (r *CLIRestarter) Restart(ctx context.Context, namespace string, resource project.ResourceID) error {
	res, err := r.runner.Run(ctx, command.Command{
		Name: "kubectl",
		Args: []string{"rollout", "restart", "-n", namespace, resource.String()},
	})
	if err != nil {
		return fmt.Errorf("kubectl rollout restart %s: %w", resource, err)
	}
	if !res.Success() {
		return fmt.Errorf("kubectl rollout restart %s exited with code %d: %s", resource, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
