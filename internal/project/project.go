// Package project defines the declarative project configuration the hook serves:
// where each project's source lives, which images it produces and which cluster
// workloads are restarted after a successful build.
package project

import (
	"fmt"
	"strings"
)

// Config is the validated content of the project file.
type Config struct {
	Registry string
	Projects []Project

	bySlug map[string]*Project
}

// Project is a single buildable unit addressed by its slug.
type Project struct {
	Name    string
	Slug    string
	Source  Source
	Images  []ImageSpec
	Restart RestartSpec
}

// Source pins the repository and branch a build is fetched from.
type Source struct {
	URL    string
	Branch string
}

// ImageSpec declares one image built from the repository.
type ImageSpec struct {
	Repository string
	// Location is the Dockerfile path relative to the repository root.
	Location string
	Tag      string
}

// RestartSpec lists the workloads restarted once every image was pushed.
type RestartSpec struct {
	Namespace string
	Resources []ResourceID
}

// ResourceID identifies a restartable workload as <kind>/<name>.
type ResourceID struct {
	Kind string
	Name string
}

// String renders the identifier in kubectl form.
func (r ResourceID) String() string {
	return r.Kind + "/" + r.Name
}

// Workload kinds accepted by a rollout restart.
const (
	KindDeployment  = "deployment"
	KindStatefulSet = "statefulset"
	KindDaemonSet   = "daemonset"
)

var kindAliases = map[string]string{
	"deployment":   KindDeployment,
	"deployments":  KindDeployment,
	"deploy":       KindDeployment,
	"statefulset":  KindStatefulSet,
	"statefulsets": KindStatefulSet,
	"sts":          KindStatefulSet,
	"daemonset":    KindDaemonSet,
	"daemonsets":   KindDaemonSet,
	"ds":           KindDaemonSet,
}

// ParseResourceID parses "<kind>/<name>" and normalizes the kind.
func ParseResourceID(s string) (ResourceID, error) {
	kind, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || strings.TrimSpace(kind) == "" || strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		return ResourceID{}, fmt.Errorf("%q must have the form <kind>/<name>", s)
	}
	normalized, known := kindAliases[strings.ToLower(strings.TrimSpace(kind))]
	if !known {
		return ResourceID{}, fmt.Errorf("%q: kind %q does not support rollout restart", s, kind)
	}
	return ResourceID{Kind: normalized, Name: strings.TrimSpace(name)}, nil
}

// Lookup returns the project configured under slug.
func (c *Config) Lookup(slug string) (*Project, bool) {
	if c == nil {
		return nil, false
	}
	if c.bySlug != nil {
		p, ok := c.bySlug[slug]
		return p, ok
	}
	for i := range c.Projects {
		if c.Projects[i].Slug == slug {
			return &c.Projects[i], true
		}
	}
	return nil, false
}

// Slugs returns every configured slug in declaration order.
func (c *Config) Slugs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Projects))
	for _, p := range c.Projects {
		out = append(out, p.Slug)
	}
	return out
}

func (c *Config) index() {
	c.bySlug = make(map[string]*Project, len(c.Projects))
	for i := range c.Projects {
		c.bySlug[c.Projects[i].Slug] = &c.Projects[i]
	}
}
