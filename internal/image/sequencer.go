package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nathanwhyte/build-hook/internal/command"
)

// ErrDockerfileMissing marks a declared Dockerfile that is absent from the checkout.
var ErrDockerfileMissing = errors.New("dockerfile not found")

// ErrNoImages is returned for an empty build plan.
var ErrNoImages = errors.New("no images to build")

// SequenceError reports the image at which the sequence stopped.
type SequenceError struct {
	// Index is the zero-based position of the failing image.
	Index int
	Tag   string
	// Precondition is set when no build was started at all.
	Precondition bool
	Err          error
}

func (e *SequenceError) Error() string {
	if e.Precondition {
		return fmt.Sprintf("image %d (%s): %v", e.Index+1, e.Tag, e.Err)
	}
	return fmt.Sprintf("build of image %d (%s) failed: %v", e.Index+1, e.Tag, e.Err)
}

func (e *SequenceError) Unwrap() error {
	return e.Err
}

// Builder runs one build-and-push on the selected builder.
type Builder interface {
	Build(ctx context.Context, tag, dockerfile, contextDir string) (command.Result, error)
}

// CleanupFunc removes a workspace once the sequence is over.
type CleanupFunc func(path string) error

// Sequencer builds a project's images one at a time and stops at the first failure.
type Sequencer struct {
	builder Builder
	cleanup CleanupFunc
	logger  *slog.Logger
	timeout time.Duration
}

// NewSequencer creates a Sequencer. A positive timeout bounds each individual build.
func NewSequencer(builder Builder, cleanup CleanupFunc, timeout time.Duration, logger *slog.Logger) *Sequencer {
	return &Sequencer{builder: builder, cleanup: cleanup, logger: logger, timeout: timeout}
}

// WithLogger returns a copy of s that logs through l.
func (s *Sequencer) WithLogger(l *slog.Logger) *Sequencer {
	cp := *s
	cp.logger = l
	return &cp
}

// BuildAll checks that every Dockerfile exists, then builds and pushes the images in
// order. The workspace is cleaned up exactly once when the sequence ends; a cleanup
// failure is logged and never changes the result.
func (s *Sequencer) BuildAll(ctx context.Context, images []BuildImage, workspace string) error {
	defer s.cleanupWorkspace(workspace)

	if len(images) == 0 {
		return ErrNoImages
	}
	for i, img := range images {
		if err := checkDockerfile(img.DockerfilePath); err != nil {
			return &SequenceError{Index: i, Tag: img.Tag, Precondition: true, Err: err}
		}
	}

	for i, img := range images {
		if err := s.build(ctx, img); err != nil {
			return &SequenceError{Index: i, Tag: img.Tag, Err: err}
		}
	}
	return nil
}

func (s *Sequencer) build(ctx context.Context, img BuildImage) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	log := s.logger.With("image", img.Tag)
	log.Info("building image", "dockerfile", img.DockerfilePath, "context", img.ContextDir)

	start := time.Now()
	res, err := s.builder.Build(ctx, img.Tag, img.DockerfilePath, img.ContextDir)
	if out := strings.TrimSpace(res.Stdout); out != "" {
		log.Debug("build stdout", "output", out)
	}
	failed := err != nil || !res.Success()
	if failed {
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			log.Warn("build stderr", "output", stderr)
		}
	}
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("docker buildx exited with code %d", res.ExitCode)
	}
	log.Info("image built and pushed", "duration", time.Since(start).String())
	return nil
}

func (s *Sequencer) cleanupWorkspace(workspace string) {
	if s.cleanup == nil || workspace == "" {
		return
	}
	if err := s.cleanup(workspace); err != nil {
		s.logger.Warn("workspace cleanup failed", "workspace", workspace, "error", err)
	}
}

func checkDockerfile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w at %s", ErrDockerfileMissing, path)
		}
		return fmt.Errorf("check dockerfile %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w at %s: not a regular file", ErrDockerfileMissing, path)
	}
	return nil
}
