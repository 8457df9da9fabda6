package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	App      fileApp       `toml:"app" yaml:"app"`
	Projects []fileProject `toml:"projects" yaml:"projects"`
}

type fileApp struct {
	Registry string `toml:"registry" yaml:"registry"`
}

type fileProject struct {
	Name        string          `toml:"name" yaml:"name"`
	Slug        string          `toml:"slug" yaml:"slug"`
	Code        fileCode        `toml:"code" yaml:"code"`
	Image       []fileImage     `toml:"image" yaml:"image"`
	Deployments fileDeployments `toml:"deployments" yaml:"deployments"`
}

type fileCode struct {
	URL    string `toml:"url" yaml:"url"`
	Branch string `toml:"branch" yaml:"branch"`
}

type fileImage struct {
	Repository string `toml:"repository" yaml:"repository"`
	Location   string `toml:"location" yaml:"location"`
	Tag        string `toml:"tag" yaml:"tag"`
}

type fileDeployments struct {
	Namespace string   `toml:"namespace" yaml:"namespace"`
	Resources []string `toml:"resources" yaml:"resources"`
}

// Format selects the project file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFor infers the syntax from a file extension; anything but .yaml/.yml is TOML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Load reads, decodes and validates the project file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format and validates the result. Unknown keys are rejected.
func Parse(data []byte, format Format) (*Config, error) {
	var raw fileConfig
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("parse toml: %s", strict.String())
			}
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported project file format %q", format)
	}
	return build(raw)
}

func build(raw fileConfig) (*Config, error) {
	cfg := &Config{Registry: strings.TrimSpace(raw.App.Registry)}
	if err := validateRegistry(cfg.Registry); err != nil {
		return nil, err
	}
	if len(raw.Projects) == 0 {
		return nil, invalid("projects", "must have at least one entry")
	}
	seen := make(map[string]int, len(raw.Projects))
	for i, rp := range raw.Projects {
		p, err := buildProject(i, rp)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[p.Slug]; dup {
			return nil, invalid(fmt.Sprintf("projects[%d].slug", i), fmt.Sprintf("%q is already used by projects[%d]", p.Slug, prev))
		}
		seen[p.Slug] = i
		cfg.Projects = append(cfg.Projects, p)
	}
	cfg.index()
	return cfg, nil
}

func buildProject(i int, rp fileProject) (Project, error) {
	field := func(name string) string { return fmt.Sprintf("projects[%d].%s", i, name) }

	p := Project{
		Name:   strings.TrimSpace(rp.Name),
		Slug:   strings.TrimSpace(rp.Slug),
		Source: Source{URL: strings.TrimSpace(rp.Code.URL), Branch: strings.TrimSpace(rp.Code.Branch)},
		Restart: RestartSpec{
			Namespace: strings.TrimSpace(rp.Deployments.Namespace),
		},
	}
	if p.Name == "" {
		return Project{}, invalid(field("name"), "must not be empty")
	}
	if err := validateSlug(p.Slug); err != nil {
		return Project{}, invalid(field("slug"), err.Error())
	}
	if err := validateHTTPSURL(p.Source.URL); err != nil {
		return Project{}, invalid(field("code.url"), err.Error())
	}
	if err := validateBranch(p.Source.Branch); err != nil {
		return Project{}, invalid(field("code.branch"), err.Error())
	}
	if len(rp.Image) == 0 {
		return Project{}, invalid(field("image"), "must have at least one entry")
	}
	for j, ri := range rp.Image {
		img := ImageSpec{
			Repository: strings.TrimSpace(ri.Repository),
			Location:   strings.TrimSpace(ri.Location),
			Tag:        strings.TrimSpace(ri.Tag),
		}
		if img.Repository == "" {
			return Project{}, invalid(field(fmt.Sprintf("image[%d].repository", j)), "must not be empty")
		}
		if err := validateLocation(img.Location); err != nil {
			return Project{}, invalid(field(fmt.Sprintf("image[%d].location", j)), err.Error())
		}
		if img.Tag == "" {
			return Project{}, invalid(field(fmt.Sprintf("image[%d].tag", j)), "must not be empty")
		}
		p.Images = append(p.Images, img)
	}
	if p.Restart.Namespace == "" {
		return Project{}, invalid(field("deployments.namespace"), "must not be empty")
	}
	if len(rp.Deployments.Resources) == 0 {
		return Project{}, invalid(field("deployments.resources"), "must have at least one item")
	}
	for j, r := range rp.Deployments.Resources {
		id, err := ParseResourceID(r)
		if err != nil {
			return Project{}, invalid(field(fmt.Sprintf("deployments.resources[%d]", j)), err.Error())
		}
		p.Restart.Resources = append(p.Restart.Resources, id)
	}
	return p, nil
}
