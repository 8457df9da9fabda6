package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `
[app]
registry = "registry.example.com"

[[projects]]
name = "API"
slug = "api"

[projects.code]
url = "https://github.com/example/api"
branch = "main"

[[projects.image]]
repository = "example/web"
location = "web/Dockerfile"
tag = "latest"

[[projects.image]]
repository = "example/worker"
location = "worker/Dockerfile"
tag = "latest"

[projects.deployments]
namespace = "prod"
resources = ["deployment/web", "sts/worker"]
`

const validYAML = `
app:
  registry: registry.example.com:5000
projects:
  - name: Docs
    slug: docs
    code:
      url: https://git.example.com/docs.git
      branch: release/v1
    image:
      - repository: docs/site
        location: Dockerfile
        tag: v1
    deployments:
      namespace: docs
      resources:
        - deploy/site
`

func TestParseTOML(t *testing.T) {
	cfg, err := Parse([]byte(validTOML), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "registry.example.com", cfg.Registry)
	require.Len(t, cfg.Projects, 1)
	p, ok := cfg.Lookup("api")
	require.True(t, ok)
	assert.Equal(t, "API", p.Name)
	assert.Equal(t, Source{URL: "https://github.com/example/api", Branch: "main"}, p.Source)
	assert.Equal(t, []ImageSpec{
		{Repository: "example/web", Location: "web/Dockerfile", Tag: "latest"},
		{Repository: "example/worker", Location: "worker/Dockerfile", Tag: "latest"},
	}, p.Images)
	assert.Equal(t, "prod", p.Restart.Namespace)
	assert.Equal(t, []ResourceID{
		{Kind: KindDeployment, Name: "web"},
		{Kind: KindStatefulSet, Name: "worker"},
	}, p.Restart.Resources)

	_, ok = cfg.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"api"}, cfg.Slugs())
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(validYAML), FormatYAML)
	require.NoError(t, err)

	p, ok := cfg.Lookup("docs")
	require.True(t, ok)
	assert.Equal(t, "release/v1", p.Source.Branch)
	assert.Equal(t, "deployment/site", p.Restart.Resources[0].String())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(validTOML+"\n[extra]\nkey = 1\n"), FormatTOML)
	require.Error(t, err)

	_, err = Parse([]byte(strings.Replace(validYAML, "    slug: docs", "    slug: docs\n    public: true", 1)), FormatYAML)
	require.Error(t, err)
}

func TestValidationNamesFirstViolation(t *testing.T) {
	tests := []struct {
		name      string
		old, repl string
		field     string
	}{
		{"empty registry", `registry = "registry.example.com"`, `registry = ""`, "app.registry"},
		{"registry url", `registry = "registry.example.com"`, `registry = "https://registry.example.com"`, "app.registry"},
		{"registry trailing slash", `registry = "registry.example.com"`, `registry = "registry.example.com/"`, "app.registry"},
		{"registry empty segment", `registry = "registry.example.com"`, `registry = "registry.example.com//team"`, "app.registry"},
		{"empty name", `name = "API"`, `name = " "`, "projects[0].name"},
		{"bad slug", `slug = "api"`, `slug = "../api"`, "projects[0].slug"},
		{"reserved slug", `slug = "api"`, `slug = "health"`, "projects[0].slug"},
		{"http url", `url = "https://github.com/example/api"`, `url = "http://github.com/example/api"`, "projects[0].code.url"},
		{"hostless url", `url = "https://github.com/example/api"`, `url = "https:///example/api"`, "projects[0].code.url"},
		{"empty branch", `branch = "main"`, `branch = ""`, "projects[0].code.branch"},
		{"empty repository", `repository = "example/web"`, `repository = ""`, "projects[0].image[0].repository"},
		{"absolute location", `location = "web/Dockerfile"`, `location = "/web/Dockerfile"`, "projects[0].image[0].location"},
		{"parent location", `location = "worker/Dockerfile"`, `location = "worker/../../Dockerfile"`, "projects[0].image[1].location"},
		{"empty tag", `tag = "latest"`, `tag = ""`, "projects[0].image[0].tag"},
		{"empty namespace", `namespace = "prod"`, `namespace = ""`, "projects[0].deployments.namespace"},
		{"no resources", `resources = ["deployment/web", "sts/worker"]`, `resources = []`, "projects[0].deployments.resources"},
		{"malformed resource", `resources = ["deployment/web", "sts/worker"]`, `resources = ["deployment/web", "worker"]`, "projects[0].deployments.resources[1]"},
		{"unsupported kind", `resources = ["deployment/web", "sts/worker"]`, `resources = ["cronjob/web"]`, "projects[0].deployments.resources[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := strings.Replace(validTOML, tt.old, tt.repl, 1)
			require.NotEqual(t, validTOML, data, "replacement did not apply")

			_, err := Parse([]byte(data), FormatTOML)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseRequiresImagesAndProjects(t *testing.T) {
	_, err := Parse([]byte("[app]\nregistry = \"r.example.com\"\n"), FormatTOML)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "projects", verr.Field)

	noImages := `
[app]
registry = "r.example.com"
[[projects]]
name = "A"
slug = "a"
[projects.code]
url = "https://example.com/a"
branch = "main"
[projects.deployments]
namespace = "ns"
resources = ["deployment/a"]
`
	_, err = Parse([]byte(noImages), FormatTOML)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "projects[0].image", verr.Field)
}

func TestParseRejectsDuplicateSlugs(t *testing.T) {
	second := validTOML[strings.Index(validTOML, "[[projects]]"):]
	_, err := Parse([]byte(validTOML+second), FormatTOML)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "projects[1].slug", verr.Field)
}

func TestLoadPicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	yamlPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(validTOML), 0o644))
	require.NoError(t, os.WriteFile(yamlPath, []byte(validYAML), 0o644))

	cfg, err := Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, cfg.Slugs())

	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, cfg.Slugs())

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestParseResourceID(t *testing.T) {
	id, err := ParseResourceID(" Deployments/api ")
	require.NoError(t, err)
	assert.Equal(t, ResourceID{Kind: KindDeployment, Name: "api"}, id)

	for _, bad := range []string{"", "api", "/api", "deployment/", "deployment/a/b", "pod/api"} {
		_, err := ParseResourceID(bad)
		assert.Error(t, err, bad)
	}
}
