// Package image plans and runs the ordered image builds of a project.
package image

import (
	"path/filepath"

	"github.com/nathanwhyte/build-hook/internal/project"
)

// BuildImage is the per-attempt build of one declared image.
type BuildImage struct {
	// Tag is the fully qualified destination, registry/repository:tag.
	Tag            string
	DockerfilePath string
	// ContextDir is the directory containing the Dockerfile.
	ContextDir string
}

// Plan derives the builds for specs inside workspace, in declaration order.
func Plan(registry, workspace string, specs []project.ImageSpec) []BuildImage {
	images := make([]BuildImage, 0, len(specs))
	for _, spec := range specs {
		dockerfile := filepath.Join(workspace, filepath.FromSlash(spec.Location))
		images = append(images, BuildImage{
			Tag:            registry + "/" + spec.Repository + ":" + spec.Tag,
			DockerfilePath: dockerfile,
			ContextDir:     filepath.Dir(dockerfile),
		})
	}
	return images
}
